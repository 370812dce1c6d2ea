// Package cli wires the shuttlr subcommands. Commands stay thin:
// they load configuration, build clients, and hand off to the
// provisioning, smoke, decommission, or dashboard packages.
package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "shuttlr",
	Short: "Cross-region S3 file shuttle pipeline",
	Long: `Shuttlr provisions and operates a cross-region S3 copy pipeline:

  S3 (source) -> SNS -> SQS -> Lambda -> S3 (target) -> Glue -> Athena

State lives in a single JSON document so every command can resume
where the last one stopped.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
