package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-group deployment status",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	_, store, err := setup()
	if err != nil {
		return err
	}
	doc, err := store.Load()
	if err != nil {
		return err
	}

	renderStatus(doc)
	if doc.LastRun != "" {
		fmt.Printf("Last run: %s\n", doc.LastRun)
	}
	if doc.Phase != "" {
		fmt.Printf("Pipeline status: %s\n", doc.Phase)
	}
	renderResources(doc)
	return nil
}
