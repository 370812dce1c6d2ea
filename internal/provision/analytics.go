package provision

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	athenatypes "github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/shuttlr-io/shuttlr/internal/awsx"
	"github.com/shuttlr-io/shuttlr/internal/logging"
	"github.com/shuttlr-io/shuttlr/internal/state"
)

const notificationID = "s3-to-sns-notification"

// Analytics provisions the last mile: the source bucket's event
// notifications into the topic, the query results bucket, the Athena
// workgroup, and a set of starter query templates on disk.
type Analytics struct {
	clients *awsx.ClientSet

	// QueriesDir receives the starter query templates; empty means
	// "athena_queries" under the working directory.
	QueriesDir string
}

func NewAnalytics(clients *awsx.ClientSet) *Analytics {
	return &Analytics{clients: clients}
}

func (a *Analytics) Name() string { return "analytics" }

func (a *Analytics) StatusKeys() []string {
	return []string{state.KeyS3Notifications, state.KeyAthenaSetup}
}

func (a *Analytics) Provision(ctx context.Context, doc *state.Document) error {
	if err := a.provisionNotifications(ctx, doc); err != nil {
		doc.SetStatus(state.KeyS3Notifications, state.StatusFailed)
		return err
	}
	doc.SetStatus(state.KeyS3Notifications, state.StatusCompleted)

	location, err := a.provisionResultsBucket(ctx, doc)
	if err != nil {
		doc.SetStatus(state.KeyAthenaSetup, state.StatusFailed)
		return err
	}
	if err := a.provisionWorkgroup(ctx, doc, location); err != nil {
		doc.SetStatus(state.KeyAthenaSetup, state.StatusFailed)
		return err
	}
	doc.SetStatus(state.KeyAthenaSetup, state.StatusCompleted)

	// Starter queries are operator convenience; failure to write them
	// never fails the group.
	if err := a.writeQueryTemplates(doc); err != nil {
		logging.Warn("could not write query templates", "error", err)
	}
	return nil
}

// provisionNotifications points ObjectCreated events for .csv keys at
// the topic, preserving any queue or function configurations already
// on the bucket.
func (a *Analytics) provisionNotifications(ctx context.Context, doc *state.Document) error {
	bucket := doc.Resources.S3.SourceBucket.Name
	topicARN := doc.Resources.SNS.TopicARN
	logging.Info("configuring S3 notifications", "bucket", bucket, "topic", topicARN)

	current, err := a.clients.Source.S3.GetBucketNotificationConfiguration(ctx, &s3.GetBucketNotificationConfigurationInput{
		Bucket: aws.String(bucket),
	})
	if err != nil && !awsx.IsCode(err, "NoSuchConfiguration") {
		return fmt.Errorf("reading notification configuration for %s: %w", bucket, err)
	}

	in := &s3.PutBucketNotificationConfigurationInput{
		Bucket: aws.String(bucket),
		NotificationConfiguration: &s3types.NotificationConfiguration{
			TopicConfigurations: []s3types.TopicConfiguration{
				{
					Id:       aws.String(notificationID),
					TopicArn: aws.String(topicARN),
					Events:   []s3types.Event{s3types.EventS3ObjectCreated},
					Filter: &s3types.NotificationConfigurationFilter{
						Key: &s3types.S3KeyFilter{
							FilterRules: []s3types.FilterRule{
								{Name: s3types.FilterRuleNameSuffix, Value: aws.String(".csv")},
							},
						},
					},
				},
			},
		},
	}
	if current != nil {
		in.NotificationConfiguration.QueueConfigurations = current.QueueConfigurations
		in.NotificationConfiguration.LambdaFunctionConfigurations = current.LambdaFunctionConfigurations
	}

	if _, err := a.clients.Source.S3.PutBucketNotificationConfiguration(ctx, in); err != nil {
		return fmt.Errorf("configuring notifications for %s: %w", bucket, err)
	}
	return nil
}

// provisionResultsBucket ensures the Athena results bucket exists in
// the target region and returns its s3:// location.
func (a *Analytics) provisionResultsBucket(ctx context.Context, doc *state.Document) (string, error) {
	name := fmt.Sprintf("aws-athena-query-results-%s-%s", doc.AccountID, doc.Regions.Target)
	logging.Info("ensuring Athena results bucket", "bucket", name)

	if err := createBucket(ctx, a.clients.Target.S3, name, doc.Regions.Target); err != nil {
		return "", err
	}

	location := fmt.Sprintf("s3://%s/", name)
	doc.Resources.Athena.ResultsBucket = name
	doc.Resources.Athena.QueryResultLocation = location
	return location, nil
}

// provisionWorkgroup creates the workgroup, or updates its result
// location when it already exists with a different one. A missing
// workgroup surfaces as InvalidRequestException from GetWorkGroup.
func (a *Analytics) provisionWorkgroup(ctx context.Context, doc *state.Document, location string) error {
	name := doc.Resources.Athena.Workgroup
	logging.Info("ensuring Athena workgroup", "workgroup", name)

	got, err := a.clients.Target.Athena.GetWorkGroup(ctx, &athena.GetWorkGroupInput{
		WorkGroup: aws.String(name),
	})
	if err == nil {
		current := ""
		if cfg := got.WorkGroup.Configuration; cfg != nil && cfg.ResultConfiguration != nil && cfg.ResultConfiguration.OutputLocation != nil {
			current = *cfg.ResultConfiguration.OutputLocation
		}
		if current == location {
			logging.Info("Athena workgroup already configured", "workgroup", name)
			return nil
		}
		_, uerr := a.clients.Target.Athena.UpdateWorkGroup(ctx, &athena.UpdateWorkGroupInput{
			WorkGroup: aws.String(name),
			ConfigurationUpdates: &athenatypes.WorkGroupConfigurationUpdates{
				ResultConfigurationUpdates: &athenatypes.ResultConfigurationUpdates{
					OutputLocation: aws.String(location),
					EncryptionConfiguration: &athenatypes.EncryptionConfiguration{
						EncryptionOption: athenatypes.EncryptionOptionSseS3,
					},
				},
				EnforceWorkGroupConfiguration:   aws.Bool(false),
				PublishCloudWatchMetricsEnabled: aws.Bool(true),
			},
		})
		if uerr != nil {
			return fmt.Errorf("updating workgroup %s: %w", name, uerr)
		}
		return nil
	}
	if !awsx.IsCode(err, "InvalidRequestException") {
		return fmt.Errorf("looking up workgroup %s: %w", name, err)
	}

	_, err = a.clients.Target.Athena.CreateWorkGroup(ctx, &athena.CreateWorkGroupInput{
		Name:        aws.String(name),
		Description: aws.String("Workgroup for cross-region S3 shuttle queries"),
		Configuration: &athenatypes.WorkGroupConfiguration{
			ResultConfiguration: &athenatypes.ResultConfiguration{
				OutputLocation: aws.String(location),
				EncryptionConfiguration: &athenatypes.EncryptionConfiguration{
					EncryptionOption: athenatypes.EncryptionOptionSseS3,
				},
			},
			EnforceWorkGroupConfiguration:   aws.Bool(false),
			PublishCloudWatchMetricsEnabled: aws.Bool(true),
		},
	})
	if err != nil {
		return fmt.Errorf("creating workgroup %s: %w", name, err)
	}
	return nil
}

// writeQueryTemplates drops a few starter queries next to the state
// file for operators to paste into the console.
func (a *Analytics) writeQueryTemplates(doc *state.Document) error {
	dir := a.QueriesDir
	if dir == "" {
		dir = "athena_queries"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	db := doc.Resources.Athena.Database
	templates := map[string]string{
		"list_tables.sql":    fmt.Sprintf("-- List all tables in the shuttle database\nSHOW TABLES IN %s;\n", db),
		"describe_table.sql": fmt.Sprintf("-- Describe table structure (replace 'table_name' with actual table name)\nDESCRIBE %s.%stable_name;\n", db, tablePrefix),
		"sample_query.sql":   fmt.Sprintf("-- Sample query against shuttled data\nSELECT *\nFROM %s.%stable_name\nLIMIT 10;\n", db, tablePrefix),
		"count_records.sql":  fmt.Sprintf("-- Count total records in shuttled data\nSELECT COUNT(*) as total_records\nFROM %s.%stable_name;\n", db, tablePrefix),
	}
	for name, query := range templates {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(query), 0o644); err != nil {
			return err
		}
	}
	logging.Info("wrote starter query templates", "dir", dir)
	return nil
}
