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
)

func main() {
	flagSet := pflag.NewFlagSet("diagnose-batches", pflag.ContinueOnError)
	eventID := flagSet.String("event", "", "event whose batches are diagnosed (required)")
	asJSON := flagSet.Bool("json", false, "print the report as JSON")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatal(err)
	}
	if *eventID == "" {
		fmt.Fprintln(os.Stderr, "usage: diagnose-batches --event <id> [--json]")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	ctx := context.Background()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	report, err := a.Diagnosis.DiagnoseEventFresh(ctx, *eventID)
	if err != nil {
		log.Fatalf("Diagnosis failed: %v", err)
	}

	if *asJSON {
		err = app.WriteJSON(os.Stdout, report)
	} else {
		err = app.PrintDiagnosis(os.Stdout, report)
	}
	if err != nil {
		log.Fatalf("Failed to print report: %v", err)
	}
}
