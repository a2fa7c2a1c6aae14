package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/HerbHall/twinhub/internal/detect"
	"github.com/HerbHall/twinhub/internal/seed"
	"github.com/HerbHall/twinhub/internal/server"
	"github.com/HerbHall/twinhub/internal/store"
)

// runSeed implements "twinhub seed [-config f]".
func runSeed(args []string) {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	_ = fs.Parse(args)

	v, err := server.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	res, err := seedDatabase(context.Background(), v.GetString("database.path"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("seeded %d anomalies and %d baselines\n", res.Anomalies, res.Baselines)
}

func seedDatabase(ctx context.Context, path string) (seed.Result, error) {
	db, err := store.New(path)
	if err != nil {
		return seed.Result{}, fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx, "detect", detect.Migrations()); err != nil {
		return seed.Result{}, fmt.Errorf("detect migrations: %w", err)
	}
	return seed.SeedDemo(ctx, detect.NewDetectStore(db.DB()), time.Now())
}
