package main

import (
	"fmt"
	"os"

	"porter/internal/config"
	"porter/internal/store"

	"github.com/spf13/cobra"
)

func dbCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Inspect and maintain the identity mapping database",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the database and its tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			s, err := store.New(cfg.Store.DBPath, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			tables, err := s.Tables(cmd.Context())
			if err != nil {
				return err
			}
			logger.Info("database ready", "path", cfg.Store.DBPath, "tables", tables)
			return nil
		},
	})

	var pruneYes bool
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Drop all id mappings (posts and replies)",
		Long:  "Drops both mapping tables. Already mirrored messages stay in Telegram but lose their link to the source, so later edits and deletes will not reach them.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !pruneYes {
				return fmt.Errorf("refusing to drop mappings without --yes")
			}
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			s, err := store.New(cfg.Store.DBPath, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Reset(cmd.Context()); err != nil {
				return err
			}
			logger.Info("mappings dropped", "path", cfg.Store.DBPath)
			return nil
		},
	}
	prune.Flags().BoolVar(&pruneYes, "yes", false, "confirm dropping all mappings")
	cmd.AddCommand(prune)

	cmd.AddCommand(&cobra.Command{
		Use:   "tables",
		Short: "List database tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			s, err := store.New(cfg.Store.DBPath, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			tables, err := s.Tables(cmd.Context())
			if err != nil {
				return err
			}
			for _, t := range tables {
				fmt.Println(t)
			}
			return nil
		},
	})

	return cmd
}

func flushLogsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flushlogs",
		Short: "Truncate the configured log file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Logging.File == "" {
				logger.Info("no log file configured, nothing to flush")
				return nil
			}
			if err := os.Truncate(cfg.Logging.File, 0); err != nil {
				if os.IsNotExist(err) {
					logger.Info("log file does not exist yet", "path", cfg.Logging.File)
					return nil
				}
				return fmt.Errorf("truncate log file: %w", err)
			}
			logger.Info("log file flushed", "path", cfg.Logging.File)
			return nil
		},
	}
}
