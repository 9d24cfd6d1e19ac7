// Package cmd defines the tanya command line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tanya",
	Short: "Tanya - question answering over Indonesian project data",
	Long: `Tanya answers natural-language questions about Indonesian project
data. It grounds each question in canonical geography, retrieves the
relevant schema, synthesizes and executes a read-only SQL query, and
summarizes the result in the user's language.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
