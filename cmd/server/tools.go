package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kurobon/imagepro/internal/config"
	"github.com/kurobon/imagepro/internal/pipeline"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the editing tools of the configured catalog",
	RunE:  runTools,
}

var toolsLang string

func init() {
	toolsCmd.Flags().StringVar(&toolsLang, "lang", "en", "Language of names and descriptions")
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cat, err := loadCatalog(cfg)
	if err != nil {
		return err
	}

	registered := make(map[string]bool)
	for _, id := range pipeline.Tools() {
		registered[id] = true
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCATEGORY\tPROVIDER\tCREDITS\tAVAILABLE")
	for _, t := range cat.List(toolsLang) {
		provider := t.Provider
		if t.Local {
			provider = "local"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%t\n", t.ID, t.Name, t.Category, provider, t.Credits, registered[t.ID])
	}
	return tw.Flush()
}
