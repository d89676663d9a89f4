package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for fastcrawl.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fastcrawl",
		Short: "Schema-driven batch web crawler",
		Long: `fastcrawl crawls websites in fixed-size batches and extracts typed records
described by schemas in a crawl file (fastcrawl.yaml).

A chain is an ordered list of stages. Each stage fetches its frontier in
batches, extracts one record per document, follows pagination within the
stage and hands detail links to the next stage.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().StringP("config", "c", "",
		"Crawl file path (default: fastcrawl.yaml in the current, XDG config or home directory)")

	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewValidateCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
