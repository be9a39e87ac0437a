package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kurobon/imagepro/internal/catalog"
	"github.com/kurobon/imagepro/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "imagepro",
	Short: "Image editing backend with undo/redo history",
	Long:  `imagepro serves the ImagePro editing API: uploads, local and AI-assisted tools, a bounded undo/redo history per session and usage statistics.`,
}

var (
	configPath string
	jsonLogs   bool
)

func init() {
	rootCmd.SilenceUsage = true
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("IMAGEPRO_CONFIG"), "Path to a YAML or TOML config file")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Log in JSON instead of text")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	if jsonLogs {
		return slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

// loadCatalog returns the catalog of cfg.CatalogDir, or the built-in one.
func loadCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	if cfg.CatalogDir == "" {
		return catalog.Default()
	}
	return catalog.LoadDir(cfg.CatalogDir)
}
