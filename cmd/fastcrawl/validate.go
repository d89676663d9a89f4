package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewValidateCmd creates the validate command.
func NewValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [chain...]",
		Short: "Check a crawl file without crawling",
		Long: `Validate loads the crawl file, checks every setting and compiles the
schema of every stage. Nothing is fetched.

Examples:
  fastcrawl validate
  fastcrawl validate -c shop.yaml books`,
		Args: cobra.ArbitraryArgs,
		RunE: runValidateCmd,
	}
}

func runValidateCmd(cmd *cobra.Command, args []string) error {
	cfg, file, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	decls, err := selectChains(file, args)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, c := range decls {
		settings, schemas, err := compileStages(file, c)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "chain %s (%s): %d stage(s)\n", c.Name, chainSchedule(c, ""), len(settings))
		for i, st := range settings {
			fmt.Fprintf(out, "  %d. %s: schema %q with %d field(s)\n", i+1, st.Name, schemas[i].Name, len(schemas[i].Fields))
		}
	}
	fmt.Fprintf(out, "%s is valid\n", cfg.ConfigFilePath)
	return nil
}
