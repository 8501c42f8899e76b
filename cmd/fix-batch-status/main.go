package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"ticket-batch-platform/internal/app"
	"ticket-batch-platform/internal/config"
	"ticket-batch-platform/internal/services"
)

func main() {
	flagSet := pflag.NewFlagSet("fix-batch-status", pflag.ContinueOnError)
	batchID := flagSet.String("batch", "", "repair a single batch")
	eventID := flagSet.String("event", "", "repair every batch of an event")
	asJSON := flagSet.Bool("json", false, "print the report as JSON")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatal(err)
	}

	target := services.RepairTarget{BatchID: *batchID, EventID: *eventID}
	if err := target.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "usage: fix-batch-status (--batch <id> | --event <id>) [--json]")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx := app.WithCLIActor(context.Background())
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}

	var report *services.RepairReport
	if target.BatchID != "" {
		report = services.NewSingleRepairReport(a.Reconciler.FixSingleBatchStatus(ctx, target.BatchID))
	} else {
		report, err = a.Reconciler.FixAllBatchesForEvent(ctx, target.EventID)
		if err != nil {
			a.Close()
			log.Fatalf("Repair failed: %v", err)
		}
	}

	if *asJSON {
		err = app.WriteJSON(os.Stdout, report)
	} else {
		err = app.PrintRepairReport(os.Stdout, report)
	}
	a.Close()
	if err != nil {
		log.Fatalf("Failed to print report: %v", err)
	}
	os.Exit(app.ExitCode(report.Summary()))
}
