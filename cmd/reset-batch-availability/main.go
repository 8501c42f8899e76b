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
	"ticket-batch-platform/internal/models"
	"ticket-batch-platform/internal/services"
)

func main() {
	flagSet := pflag.NewFlagSet("reset-batch-availability", pflag.ContinueOnError)
	batchID := flagSet.String("batch", "", "reset a single batch")
	eventID := flagSet.String("event", "", "reset every batch of an event")
	confirm := flagSet.String("confirm", "", fmt.Sprintf("must be exactly %q", models.ResetAvailabilityConfirmation))
	asJSON := flagSet.Bool("json", false, "print the report as JSON")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatal(err)
	}

	target := services.RepairTarget{BatchID: *batchID, EventID: *eventID}
	if err := target.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "usage: reset-batch-availability (--batch <id> | --event <id>) --confirm %q\n", models.ResetAvailabilityConfirmation)
		os.Exit(1)
	}
	if *confirm != models.ResetAvailabilityConfirmation {
		fmt.Fprintf(os.Stderr, "This sets available tickets back to total tickets and discards the sold count.\n")
		fmt.Fprintf(os.Stderr, "Re-run with --confirm %q to proceed.\n", models.ResetAvailabilityConfirmation)
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

	report, err := a.Reconciler.FixAvailableTickets(ctx, target, *confirm)
	if err != nil {
		a.Close()
		log.Fatalf("Reset failed: %v", err)
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
