package main

import (
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/reviewgate/internal/cache"
)

var cacheBackend string

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheClearCmd.Flags().StringVar(&cacheBackend, "cache-backend", "", "cache backend: file, sqlite or memory")
}

// cacheCmd groups result cache operations
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage cached gate results",
}

// cacheClearCmd removes every cached result
var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached gate result",
	Long: `Remove every cached gate result from the configured store, whether or not
caching is currently enabled.

Examples:
  reviewgate cache clear
  reviewgate cache clear --cache-backend sqlite`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cacheBackend != "" {
			cfg.Cache.Backend = cacheBackend
		}
		store, closeStore, err := openStore(cfg.Cache)
		if err != nil {
			return usageError(err)
		}
		defer closeStore()

		if err := cache.New(store).Clear(); err != nil {
			return err
		}
		cmd.Printf("Cleared %s cache\n", cfg.Cache.Backend)
		return nil
	},
}
