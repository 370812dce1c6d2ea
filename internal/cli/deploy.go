package cli

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/shuttlr-io/shuttlr/internal/awsx"
	"github.com/shuttlr-io/shuttlr/internal/provision"
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Provision the pipeline end to end",
	Long: `Provisions every resource group in dependency order: IAM role and
buckets, then SNS/SQS/Lambda messaging, then the Glue catalog, then
S3 notifications and Athena.

Groups already marked completed are skipped, so a failed run can be
re-invoked and resumes where it stopped.`,
	RunE: runDeploy,
}

func runDeploy(cmd *cobra.Command, args []string) error {
	cfg, store, err := setup()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	fmt.Println("Cross-Region S3 Shuttle Deployment")
	fmt.Printf("Started at: %s\n", time.Now().Format(time.RFC3339))

	doc, err := store.Load()
	if err != nil {
		return err
	}
	renderStatus(doc)

	clients, err := awsx.NewClientSet(ctx, cfg.SourceRegion, cfg.TargetRegion)
	if err != nil {
		return err
	}
	account, err := clients.AccountID(ctx)
	if err != nil {
		return fmt.Errorf("AWS credentials issue: %w", err)
	}
	color.Green("✓ AWS credentials valid - Account: %s", account)

	orchestrator := provision.NewOrchestrator(store,
		provision.NewFoundation(clients),
		provision.NewMessaging(clients),
		provision.NewCatalog(clients),
		provision.NewAnalytics(clients),
	)

	deployErr := orchestrator.Deploy(ctx)

	doc, loadErr := store.Load()
	if loadErr != nil {
		return loadErr
	}
	renderStatus(doc)

	if deployErr != nil {
		color.Red("✗ DEPLOYMENT FAILED")
		fmt.Println("Fix the reported issue and re-run 'shuttlr deploy' to resume.")
		return deployErr
	}

	color.Green("✓ DEPLOYMENT COMPLETED SUCCESSFULLY")
	renderResources(doc)
	fmt.Printf("\nCompleted at: %s\n", time.Now().Format(time.RFC3339))
	return nil
}
