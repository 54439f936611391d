package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"strings"

	"github.com/cellgrid-lab/cellgrid/config"
	"github.com/cellgrid-lab/cellgrid/export"
	"github.com/cellgrid-lab/cellgrid/table"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (optional)")
	columns := flag.String("columns", "", "Comma-separated columns to export")
	out := flag.String("out", "", "Output file (default stdout)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	names := splitColumns(*columns)
	if len(names) == 0 {
		slog.Error("No columns requested; pass -columns a,b,c")
		os.Exit(1)
	}

	// Column registration is a write-guarded operation, so the dump
	// opens the table writable regardless of table.read_only.
	cfg.Table.ReadOnly = false

	ctx := context.Background()
	tb, err := config.Open(ctx, cfg)
	if err != nil {
		slog.Error("Failed to open table", "dir", cfg.Store.Dir, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := tb.Close(); err != nil {
			slog.Error("Failed to close table", "error", err)
		}
	}()

	// Pass-through views expose stored cells without recomputation.
	for _, name := range names {
		if err := tb.Add(table.NewPassThrough(name)); err != nil {
			slog.Error("Failed to register column", "column", name, "error", err)
			os.Exit(1)
		}
	}

	records, err := export.Records(ctx, tb, names, nil)
	if err != nil {
		slog.Error("Export failed", "error", err)
		os.Exit(1)
	}

	w := os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			slog.Error("Failed to create output file", "path", *out, "error", err)
			os.Exit(1)
		}
		defer f.Close()
		w = f
	}
	if err := export.WriteCSV(w, names, records); err != nil {
		slog.Error("Failed to write CSV", "error", err)
		os.Exit(1)
	}
	slog.Info("Export complete", "columns", len(names), "records", len(records))
}

func splitColumns(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
