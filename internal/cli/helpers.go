package cli

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/shuttlr-io/shuttlr/internal/config"
	"github.com/shuttlr-io/shuttlr/internal/logging"
	"github.com/shuttlr-io/shuttlr/internal/state"
)

// statusComponents pairs each deployment status key with its
// operator-facing description, in provisioning order.
var statusComponents = []struct {
	key         string
	description string
}{
	{state.KeyIAMRole, "IAM Role Creation"},
	{state.KeyS3Buckets, "S3 Buckets Creation"},
	{state.KeySNSTopic, "SNS Topic Creation"},
	{state.KeySQSQueue, "SQS Queue Creation"},
	{state.KeyLambdaFunction, "Lambda Function Creation"},
	{state.KeyGlueCrawler, "Glue Crawler Creation"},
	{state.KeyS3Notifications, "S3 Notifications Setup"},
	{state.KeyAthenaSetup, "Athena Setup"},
}

// setup loads configuration, initializes logging, and returns the
// state store. Every subcommand starts here.
func setup() (*config.Config, *state.Store, error) {
	if err := config.Init(); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize configuration: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logging.Init(cfg.LogLevel)
	return cfg, state.NewStore(cfg.StatePath), nil
}

func banner(title string) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println(title)
	fmt.Println(strings.Repeat("=", 60))
}

// renderStatus prints the per-group deployment status table.
func renderStatus(doc *state.Document) {
	banner("DEPLOYMENT STATUS")
	for _, c := range statusComponents {
		status := doc.DeploymentStatus[c.key]
		if status == "" {
			status = state.StatusPending
		}
		line := fmt.Sprintf("%s: %s", c.description, strings.ToUpper(string(status)))
		switch status {
		case state.StatusCompleted:
			color.Green("✓ %s", line)
		case state.StatusFailed:
			color.Red("✗ %s", line)
		case state.StatusDeleted:
			color.Red("✗ %s", line)
		default:
			color.Yellow("○ %s", line)
		}
	}
	fmt.Println(strings.Repeat("=", 60))
}

// renderResources prints the identifiers of everything provisioned so far.
func renderResources(doc *state.Document) {
	fmt.Println("\nCREATED RESOURCES:")
	r := doc.Resources
	printIfSet := func(label, value string) {
		if value != "" {
			fmt.Printf("%s: %s\n", label, value)
		}
	}
	printIfSet("IAM Role", r.IAM.RoleARN)
	if !strings.Contains(r.S3.SourceBucket.Name, "{account-id}") {
		fmt.Printf("Source Bucket: %s (%s)\n", r.S3.SourceBucket.Name, r.S3.SourceBucket.Region)
		fmt.Printf("Target Bucket: %s (%s)\n", r.S3.TargetBucket.Name, r.S3.TargetBucket.Region)
	}
	printIfSet("SNS Topic", r.SNS.TopicARN)
	printIfSet("SQS Queue", r.SQS.QueueARN)
	printIfSet("Lambda Function", r.Lambda.FunctionARN)
	printIfSet("Glue Crawler", r.Glue.CrawlerName)
	printIfSet("Athena Workgroup", r.Athena.Workgroup)
}
