package main

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/amarchal/fundscan/config"
	"github.com/amarchal/fundscan/internal/batch"
	"github.com/amarchal/fundscan/internal/extract"
	"github.com/amarchal/fundscan/internal/prompt"
	"github.com/amarchal/fundscan/internal/store"
	"github.com/amarchal/fundscan/internal/telemetry"
)

func batchCMD() *cobra.Command {
	var username string
	var csvPath string
	var sourceDir string
	var processedDir string
	var cfgPath string

	var run = &cobra.Command{
		Use:   "batch",
		Short: "Process pending articles from a directory or CSV file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			ctx := context.Background()

			dsn, err := cfg.Storage.Postgres.DSN()
			if err != nil {
				return err
			}
			st, err := store.NewWithDSN(ctx, dsn)
			if err != nil {
				return err
			}
			defer st.DB.Close()

			u, err := st.GetUserByUsername(ctx, username)
			if err != nil {
				return fmt.Errorf("user %q not found: %w", username, err)
			}

			resolver := &prompt.Resolver{Store: st, DefaultPath: cfg.Batch.PromptFile}
			systemPrompt, err := resolver.ResolveFor(u)
			if err != nil {
				return err
			}

			logger := log.New(log.Writer(), "[BATCH] ", log.LstdFlags)
			metrics := telemetry.NewMetrics()
			runner := &batch.Runner{
				Extractor: extract.NewClient(cfg.LLM, logger, metrics),
				Saver:     st,
				Logger:    logger,
				Metrics:   metrics,
			}

			if sourceDir == "" {
				sourceDir = cfg.Batch.SourceDir
			}
			if processedDir == "" {
				processedDir = cfg.Batch.ProcessedDir
			}

			var rep batch.Report
			if csvPath != "" {
				rep, err = runner.RunCSV(ctx, u.ID, systemPrompt, csvPath)
			} else {
				rep, err = runner.RunDir(ctx, u.ID, systemPrompt, sourceDir, processedDir)
			}
			if err != nil {
				return err
			}
			fmt.Printf("traités: %d, réussis: %d, échoués: %d\n", rep.Processed, rep.Succeeded, rep.Failed)
			return nil
		},
	}
	run.Flags().StringVar(&username, "user", "", "username owning the extractions (required)")
	run.Flags().StringVar(&csvPath, "csv", "", "CSV file to process instead of the source directory")
	run.Flags().StringVar(&sourceDir, "source", "", "directory of .txt articles (default from config)")
	run.Flags().StringVar(&processedDir, "processed", "", "directory processed files are moved to (default from config)")
	run.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	_ = run.MarkFlagRequired("user")

	return run
}
