package main

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nao1215/fastcrawl/internal/config"
)

//go:embed templates/fastcrawl.yaml
var configTemplate []byte

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a fastcrawl.yaml crawl file",
		Long: `Init writes a commented crawl file to the current directory.

The generated file includes:
- Engine settings (connection limit, timeout, proxy, robots.txt)
- Stage defaults (depth, request budget, sleeps)
- A two stage chain that follows pagination and extracts detail pages

Examples:
  # Create fastcrawl.yaml in the current directory
  fastcrawl init

  # Create the file at a specific path
  fastcrawl init -o crawls/shop.yaml

  # Overwrite an existing file
  fastcrawl init -f`,
		RunE: runInitCmd,
	}

	cmd.Flags().StringP("output", "o", config.DefaultConfigFile,
		"Output file path for the crawl file")
	cmd.Flags().BoolP("force", "f", false,
		"Overwrite an existing crawl file")

	return cmd
}

func runInitCmd(cmd *cobra.Command, _ []string) error {
	outputPath, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return err
	}

	if !force {
		if _, err := os.Stat(outputPath); err == nil {
			return fmt.Errorf("crawl file already exists: %s (use -f to overwrite)", outputPath)
		}
	}

	if dir := filepath.Dir(outputPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	if err := os.WriteFile(outputPath, configTemplate, 0600); err != nil {
		return fmt.Errorf("failed to write crawl file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created crawl file: %s\n", outputPath)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  fastcrawl validate -c", outputPath)
	fmt.Fprintln(out, "  fastcrawl run -c", outputPath)
	return nil
}
