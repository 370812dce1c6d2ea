package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/shuttlr-io/shuttlr/internal/awsx"
	"github.com/shuttlr-io/shuttlr/internal/smoke"
)

var verifySample string

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Push a test file through the deployed pipeline",
	Long: `Uploads a sample CSV to the source bucket and follows it through the
pipeline: cross-region copy, crawler run, catalog registration,
Athena query, and Lambda logs. Halts at the first failing step.`,
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().StringVar(&verifySample, "sample", "", "Path to the CSV sample to upload (default data/customers.csv)")
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, store, err := setup()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	doc, err := store.Load()
	if err != nil {
		return err
	}

	clients, err := awsx.NewClientSet(ctx, cfg.SourceRegion, cfg.TargetRegion)
	if err != nil {
		return err
	}

	exerciser := smoke.NewExerciser(clients, cfg.Poll, os.Stdout)
	if verifySample != "" {
		exerciser.SamplePath = verifySample
	}
	return exerciser.Run(ctx, doc)
}
