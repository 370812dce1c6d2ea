package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/shuttlr-io/shuttlr/internal/awsx"
	"github.com/shuttlr-io/shuttlr/internal/decommission"
)

var destroyAutoApprove bool

var destroyCmd = &cobra.Command{
	Use:   "destroy",
	Short: "Tear down every pipeline resource",
	Long: `Deletes all resources recorded in the state document: buckets (with
their object versions), the Lambda function, queue, topic, Glue
catalog, Athena workgroup, and IAM role.

Deletion is best effort. A resource that fails to delete is reported
and skipped so the rest of the teardown still runs.`,
	RunE: runDestroy,
}

func init() {
	destroyCmd.Flags().BoolVar(&destroyAutoApprove, "auto-approve", false, "Skip the interactive deletion confirmation")
}

func runDestroy(cmd *cobra.Command, args []string) error {
	cfg, store, err := setup()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	doc, err := store.Load()
	if err != nil {
		return err
	}

	banner("RESOURCES TO DELETE")
	renderResources(doc)

	if !destroyAutoApprove {
		color.Yellow("\nThis permanently deletes the resources above, including all bucket contents.")
		fmt.Print("Type 'DELETE' to confirm resource deletion: ")
		var response string
		fmt.Scanln(&response)
		if response != "DELETE" {
			fmt.Println("Destroy cancelled.")
			return nil
		}
	}

	clients, err := awsx.NewClientSet(ctx, cfg.SourceRegion, cfg.TargetRegion)
	if err != nil {
		return err
	}

	if err := decommission.New(clients, store, os.Stdout).Run(ctx); err != nil {
		return err
	}

	color.Green("\n✓ Decommission complete")
	return nil
}
