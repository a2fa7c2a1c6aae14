package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/HerbHall/twinhub/internal/backup"
	"github.com/HerbHall/twinhub/internal/server"
)

// runBackup implements "twinhub backup [-config f] [-output archive]".
func runBackup(args []string) {
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	output := fs.String("output", "", "archive path (default twinhub-backup-<timestamp>.tar.gz)")
	_ = fs.Parse(args)

	v, err := server.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	archive := *output
	if archive == "" {
		archive = "twinhub-backup-" + time.Now().UTC().Format("20060102T150405Z") + ".tar.gz"
	}

	dbPath := v.GetString("database.path")
	if err := backup.Backup(context.Background(), dbPath, v.ConfigFileUsed(), archive); err != nil {
		fmt.Fprintf(os.Stderr, "backup failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("backup written to %s\n", archive)
}

// runRestore implements "twinhub restore [-config f] [-force] archive".
// The database lands in the directory of the configured database.path.
func runRestore(args []string) {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	force := fs.Bool("force", false, "overwrite existing files")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: twinhub restore [-config file] [-force] <archive>")
		os.Exit(2)
	}

	v, err := server.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	target := filepath.Dir(v.GetString("database.path"))
	if err := backup.Restore(context.Background(), fs.Arg(0), target, *force); err != nil {
		fmt.Fprintf(os.Stderr, "restore failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("restored %s into %s\n", fs.Arg(0), target)
}
