package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shuttlr-io/shuttlr/internal/awsx"
	"github.com/shuttlr-io/shuttlr/internal/dashboard"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only analytics dashboard",
	Long: `Starts an HTTP server showing the country distribution of the
shuttled customer data. Each request runs a fresh Athena query; the
dashboard never mutates pipeline state.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides configuration)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, store, err := setup()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	// Fail early if the pipeline has never been initialized.
	if _, err := store.Load(); err != nil {
		return err
	}

	clients, err := awsx.NewClients(ctx, cfg.TargetRegion)
	if err != nil {
		return err
	}

	port := cfg.Dashboard.Port
	if servePort != 0 {
		port = servePort
	}

	querier := dashboard.NewQuerier(clients.Glue, clients.Athena)
	server := dashboard.NewServer(store, querier)
	fmt.Printf("Dashboard available at http://localhost:%d\n", port)
	return server.Run(port)
}
