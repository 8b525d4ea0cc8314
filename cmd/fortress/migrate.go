package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/lvonguyen/fortress/internal/deceptions"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [up|down|status|version|redo|reset]",
	Short: "Manage the deception log database schema",
	Args:  cobra.RangeArgs(0, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		command := "up"
		if len(args) > 0 {
			command = args[0]
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		url := cfg.Credentials().DatabaseURL
		if url == "" {
			return errors.New(cfg.Database.URLEnv + " is not set")
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		pool, err := connectDatabase(ctx, url)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := deceptions.Migrate(ctx, pool, command, args[min(1, len(args)):]...); err != nil {
			return err
		}
		cmd.Printf("migrate %s: done\n", command)
		return nil
	},
}
