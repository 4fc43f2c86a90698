package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "inkwell",
	Short: "Multi-agent content-generation pipeline",
	Long: `inkwell drives a seven-stage, LLM-backed content pipeline: research,
tone, outline, writing, SEO, originality, and final review.

Runs execute fully automatically or pause after each stage for manual
approval (checkpoint mode). All state is stored in ~/.inkwell/ (SQLite for
events and usage, JSON for run and session state).`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkpointCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
}
