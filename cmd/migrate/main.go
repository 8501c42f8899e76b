package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/pflag"

	"ticket-batch-platform/internal/config"
	"ticket-batch-platform/internal/database"
)

func main() {
	var (
		statusFlag = pflag.Bool("status", false, "Show migration status")
		upFlag     = pflag.Bool("up", false, "Run pending migrations")
	)
	pflag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	db, err := database.NewConnection(ctx, cfg.Database.Connection())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	switch {
	case *statusFlag:
		statuses, err := db.MigrationStatus(ctx)
		if err != nil {
			log.Fatalf("Failed to get migration status: %v", err)
		}
		fmt.Println("Migration Status:")
		fmt.Println("================")
		for _, s := range statuses {
			state := "PENDING"
			if s.Applied {
				state = "APPLIED"
			}
			fmt.Printf("%03d_%s: %s\n", s.Version, s.Name, state)
		}
	case *upFlag:
		applied, err := db.RunMigrations(ctx, nil)
		if err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		fmt.Printf("Applied %d migration(s)\n", applied)
	default:
		fmt.Println("Usage:")
		fmt.Println("  migrate --status   # Show migration status")
		fmt.Println("  migrate --up       # Run pending migrations")
		os.Exit(1)
	}
}
