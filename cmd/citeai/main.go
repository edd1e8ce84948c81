package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var version = "dev"

// noColor disables ANSI output. It starts from fatih/color's terminal and
// NO_COLOR detection and --no-color forces it on.
var noColor = color.NoColor

var rootCmd = &cobra.Command{
	Use:           "citeai",
	Short:         "Generate structured academic papers with a language model",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if flag, _ := cmd.Flags().GetBool("no-color"); flag {
			noColor = true
		}
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored output")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(papersCmd)
	rootCmd.AddCommand(providersCmd)
	rootCmd.AddCommand(prefsCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
