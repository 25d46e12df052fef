package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ostrix/blastd/internal/ingest"
	"github.com/ostrix/blastd/internal/models"
)

var importGroup string

var importCmd = &cobra.Command{
	Use:   "import <file.csv>",
	Short: "Import contacts from a CSV file",
	Long:  `Import contacts from a CSV file with phone and name columns. Rows with an existing normalized phone update the contact in place.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

func init() {
	importCmd.Flags().StringVar(&importGroup, "group", "", "Default group for rows without one")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	db, cfg, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return err
	}

	file, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open csv file: %w", err)
	}
	defer file.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := ingest.NewService(db, logger)

	job, err := svc.Import(file, ingest.Options{
		FileName:           filepath.Base(args[0]),
		GroupName:          importGroup,
		DefaultCountryCode: cfg.Ingest.DefaultCountryCode,
		Actor:              "cli",
	})
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	if job.Status == models.ImportFailed {
		return fmt.Errorf("import failed: %s", job.Error)
	}

	fmt.Printf("Import %s completed\n", job.ID)
	fmt.Printf("  Total:     %d\n", job.Total)
	fmt.Printf("  Imported:  %d\n", job.Imported)
	fmt.Printf("  Duplicate: %d\n", job.Duplicate)
	fmt.Printf("  Invalid:   %d\n", job.Invalid)

	return nil
}
