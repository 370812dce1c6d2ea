// Package decommission tears down every pipeline resource in reverse
// dependency order. Deletion is best-effort: "already gone" responses
// count as success and any other per-step error is logged and
// skipped, so a partial teardown can be re-run. This is the opposite
// policy from deployment, which halts on first failure.
package decommission

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	gluetypes "github.com/aws/aws-sdk-go-v2/service/glue/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/fatih/color"

	"github.com/shuttlr-io/shuttlr/internal/awsx"
	"github.com/shuttlr-io/shuttlr/internal/logging"
	"github.com/shuttlr-io/shuttlr/internal/poll"
	"github.com/shuttlr-io/shuttlr/internal/state"
)

// Narrow views over the service clients for fakeability.

type bucketAPI interface {
	ListObjectVersions(ctx context.Context, in *s3.ListObjectVersionsInput, optFns ...func(*s3.Options)) (*s3.ListObjectVersionsOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	DeleteBucket(ctx context.Context, in *s3.DeleteBucketInput, optFns ...func(*s3.Options)) (*s3.DeleteBucketOutput, error)
}

type functionAPI interface {
	DeleteEventSourceMapping(ctx context.Context, in *lambda.DeleteEventSourceMappingInput, optFns ...func(*lambda.Options)) (*lambda.DeleteEventSourceMappingOutput, error)
	DeleteFunction(ctx context.Context, in *lambda.DeleteFunctionInput, optFns ...func(*lambda.Options)) (*lambda.DeleteFunctionOutput, error)
}

type queueAPI interface {
	DeleteQueue(ctx context.Context, in *sqs.DeleteQueueInput, optFns ...func(*sqs.Options)) (*sqs.DeleteQueueOutput, error)
}

type topicAPI interface {
	DeleteTopic(ctx context.Context, in *sns.DeleteTopicInput, optFns ...func(*sns.Options)) (*sns.DeleteTopicOutput, error)
}

type catalogAPI interface {
	GetCrawler(ctx context.Context, in *glue.GetCrawlerInput, optFns ...func(*glue.Options)) (*glue.GetCrawlerOutput, error)
	StopCrawler(ctx context.Context, in *glue.StopCrawlerInput, optFns ...func(*glue.Options)) (*glue.StopCrawlerOutput, error)
	DeleteCrawler(ctx context.Context, in *glue.DeleteCrawlerInput, optFns ...func(*glue.Options)) (*glue.DeleteCrawlerOutput, error)
	DeleteClassifier(ctx context.Context, in *glue.DeleteClassifierInput, optFns ...func(*glue.Options)) (*glue.DeleteClassifierOutput, error)
	DeleteDatabase(ctx context.Context, in *glue.DeleteDatabaseInput, optFns ...func(*glue.Options)) (*glue.DeleteDatabaseOutput, error)
}

type roleAPI interface {
	ListAttachedRolePolicies(ctx context.Context, in *iam.ListAttachedRolePoliciesInput, optFns ...func(*iam.Options)) (*iam.ListAttachedRolePoliciesOutput, error)
	DetachRolePolicy(ctx context.Context, in *iam.DetachRolePolicyInput, optFns ...func(*iam.Options)) (*iam.DetachRolePolicyOutput, error)
	ListRolePolicies(ctx context.Context, in *iam.ListRolePoliciesInput, optFns ...func(*iam.Options)) (*iam.ListRolePoliciesOutput, error)
	DeleteRolePolicy(ctx context.Context, in *iam.DeleteRolePolicyInput, optFns ...func(*iam.Options)) (*iam.DeleteRolePolicyOutput, error)
	DeleteRole(ctx context.Context, in *iam.DeleteRoleInput, optFns ...func(*iam.Options)) (*iam.DeleteRoleOutput, error)
}

type workgroupAPI interface {
	DeleteWorkGroup(ctx context.Context, in *athena.DeleteWorkGroupInput, optFns ...func(*athena.Options)) (*athena.DeleteWorkGroupOutput, error)
}

// Decommissioner deletes the pipeline's resources and marks every
// status key deleted.
type Decommissioner struct {
	sourceS3  bucketAPI
	targetS3  bucketAPI
	functions functionAPI
	queues    queueAPI
	topics    topicAPI
	catalog   catalogAPI
	roles     roleAPI
	analytics workgroupAPI

	store *state.Store
	out   io.Writer

	// QueriesDir is removed during local cleanup; empty means the
	// default "athena_queries".
	QueriesDir string

	stopInterval time.Duration
	stopTimeout  time.Duration
}

func New(clients *awsx.ClientSet, store *state.Store, out io.Writer) *Decommissioner {
	if out == nil {
		out = os.Stdout
	}
	return &Decommissioner{
		sourceS3:     clients.Source.S3,
		targetS3:     clients.Target.S3,
		functions:    clients.Target.Lambda,
		queues:       clients.Target.SQS,
		topics:       clients.Source.SNS,
		catalog:      clients.Target.Glue,
		roles:        clients.IAM,
		analytics:    clients.Target.Athena,
		store:        store,
		out:          out,
		stopInterval: 5 * time.Second,
		stopTimeout:  5 * time.Minute,
	}
}

// Run deletes everything and persists the final document. It only
// returns an error when the state document itself cannot be loaded or
// saved; individual deletion failures are reported and skipped.
func (d *Decommissioner) Run(ctx context.Context) error {
	doc, err := d.store.Load()
	if err != nil {
		return err
	}

	if err := d.store.Lock(); err != nil {
		return err
	}
	defer d.store.Unlock()

	steps := []struct {
		name string
		fn   func(context.Context, *state.Document) error
	}{
		{"buckets", d.deleteBuckets},
		{"Lambda function", d.deleteFunction},
		{"SQS queue", d.deleteQueue},
		{"SNS topic", d.deleteTopic},
		{"Glue resources", d.deleteCatalog},
		{"Athena workgroup", d.deleteWorkgroup},
		{"IAM role", d.deleteRole},
		{"local files", d.cleanupLocal},
	}

	warn := color.New(color.FgYellow)
	for _, step := range steps {
		fmt.Fprintf(d.out, "=== Deleting %s ===\n", step.name)
		if err := step.fn(ctx, doc); err != nil {
			warn.Fprintf(d.out, "skipping %s: %v\n", step.name, err)
			logging.Warn("decommission step failed", "step", step.name, "error", err)
		}
	}

	for _, key := range state.GroupKeys {
		doc.SetStatus(key, state.StatusDeleted)
	}
	doc.DeletionTimestamp = time.Now().Format(time.RFC3339)
	doc.Phase = "decommissioned"
	doc.TouchLastRun()
	return d.store.Save(doc)
}

func (d *Decommissioner) deleteBuckets(ctx context.Context, doc *state.Document) error {
	buckets := []struct {
		client bucketAPI
		name   string
	}{
		{d.sourceS3, doc.Resources.S3.SourceBucket.Name},
		{d.targetS3, doc.Resources.S3.TargetBucket.Name},
		{d.targetS3, doc.Resources.Athena.ResultsBucket},
	}

	warn := color.New(color.FgYellow)
	for _, b := range buckets {
		if b.name == "" || hasPlaceholder(b.name) {
			continue
		}
		if err := deleteVersionedBucket(ctx, b.client, b.name, d.out); err != nil {
			if awsx.IsNotFound(err) {
				warn.Fprintf(d.out, "bucket %s does not exist\n", b.name)
				continue
			}
			warn.Fprintf(d.out, "error deleting bucket %s: %v\n", b.name, err)
			logging.Warn("bucket deletion failed", "bucket", b.name, "error", err)
			continue
		}
		fmt.Fprintf(d.out, "deleted bucket %s\n", b.name)
	}
	return nil
}

// hasPlaceholder reports whether a seeded bucket name was never
// resolved; such buckets were never created.
func hasPlaceholder(name string) bool {
	return strings.Contains(name, "{account-id}")
}

// deleteVersionedBucket drains every object version and delete marker
// in batches, then removes the bucket. A versioned bucket rejects
// deletion while any version remains.
func deleteVersionedBucket(ctx context.Context, client bucketAPI, name string, out io.Writer) error {
	in := &s3.ListObjectVersionsInput{Bucket: aws.String(name)}
	for {
		page, err := client.ListObjectVersions(ctx, in)
		if err != nil {
			return err
		}

		var objects []s3types.ObjectIdentifier
		for _, v := range page.Versions {
			objects = append(objects, s3types.ObjectIdentifier{Key: v.Key, VersionId: v.VersionId})
		}
		for _, m := range page.DeleteMarkers {
			objects = append(objects, s3types.ObjectIdentifier{Key: m.Key, VersionId: m.VersionId})
		}
		if len(objects) > 0 {
			if _, err := client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(name),
				Delete: &s3types.Delete{Objects: objects},
			}); err != nil {
				return err
			}
			fmt.Fprintf(out, "  deleted %d object versions/markers\n", len(objects))
		}

		if !aws.ToBool(page.IsTruncated) {
			break
		}
		in.KeyMarker = page.NextKeyMarker
		in.VersionIdMarker = page.NextVersionIdMarker
	}

	_, err := client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(name)})
	return err
}

func (d *Decommissioner) deleteFunction(ctx context.Context, doc *state.Document) error {
	// The event source mapping outlives the function; remove it first.
	if uuid := doc.Resources.Lambda.MappingUUID; uuid != "" {
		_, err := d.functions.DeleteEventSourceMapping(ctx, &lambda.DeleteEventSourceMappingInput{UUID: aws.String(uuid)})
		if err != nil && !awsx.IsNotFound(err) {
			return err
		}
	}

	name := doc.Resources.Lambda.FunctionName
	_, err := d.functions.DeleteFunction(ctx, &lambda.DeleteFunctionInput{FunctionName: aws.String(name)})
	if err != nil {
		if awsx.IsNotFound(err) {
			fmt.Fprintf(d.out, "Lambda function %s does not exist\n", name)
			return nil
		}
		return err
	}
	fmt.Fprintf(d.out, "deleted Lambda function %s\n", name)
	return nil
}

func (d *Decommissioner) deleteQueue(ctx context.Context, doc *state.Document) error {
	url := doc.Resources.SQS.QueueURL
	if url == "" {
		fmt.Fprintln(d.out, "no SQS queue to delete")
		return nil
	}
	_, err := d.queues.DeleteQueue(ctx, &sqs.DeleteQueueInput{QueueUrl: aws.String(url)})
	if err != nil {
		if awsx.IsNotFound(err) {
			fmt.Fprintln(d.out, "SQS queue does not exist")
			return nil
		}
		return err
	}
	fmt.Fprintf(d.out, "deleted SQS queue %s\n", url)
	return nil
}

func (d *Decommissioner) deleteTopic(ctx context.Context, doc *state.Document) error {
	arn := doc.Resources.SNS.TopicARN
	if arn == "" {
		fmt.Fprintln(d.out, "no SNS topic to delete")
		return nil
	}
	_, err := d.topics.DeleteTopic(ctx, &sns.DeleteTopicInput{TopicArn: aws.String(arn)})
	if err != nil {
		if awsx.IsNotFound(err) {
			fmt.Fprintln(d.out, "SNS topic does not exist")
			return nil
		}
		return err
	}
	fmt.Fprintf(d.out, "deleted SNS topic %s\n", arn)
	return nil
}

func (d *Decommissioner) deleteCatalog(ctx context.Context, doc *state.Document) error {
	warn := color.New(color.FgYellow)

	crawler := doc.Resources.Glue.CrawlerName
	if crawler != "" {
		if err := d.stopCrawler(ctx, crawler); err != nil {
			warn.Fprintf(d.out, "could not stop crawler %s: %v\n", crawler, err)
		}
		if _, err := d.catalog.DeleteCrawler(ctx, &glue.DeleteCrawlerInput{Name: aws.String(crawler)}); err != nil {
			if !awsx.IsCode(err, "EntityNotFoundException") {
				warn.Fprintf(d.out, "error deleting crawler %s: %v\n", crawler, err)
			}
		} else {
			fmt.Fprintf(d.out, "deleted Glue crawler %s\n", crawler)
		}
	}

	classifier := doc.Resources.Glue.ClassifierName
	if classifier != "" {
		if _, err := d.catalog.DeleteClassifier(ctx, &glue.DeleteClassifierInput{Name: aws.String(classifier)}); err != nil {
			if !awsx.IsCode(err, "EntityNotFoundException") {
				warn.Fprintf(d.out, "error deleting classifier %s: %v\n", classifier, err)
			}
		} else {
			fmt.Fprintf(d.out, "deleted Glue classifier %s\n", classifier)
		}
	}

	// Deleting the database also drops its tables.
	db := doc.Resources.Glue.DatabaseName
	if db != "" {
		if _, err := d.catalog.DeleteDatabase(ctx, &glue.DeleteDatabaseInput{Name: aws.String(db)}); err != nil {
			if !awsx.IsCode(err, "EntityNotFoundException") {
				warn.Fprintf(d.out, "error deleting database %s: %v\n", db, err)
			}
		} else {
			fmt.Fprintf(d.out, "deleted Glue database %s\n", db)
		}
	}
	return nil
}

// stopCrawler stops a running crawler and waits for it to return to
// READY so deletion can proceed.
func (d *Decommissioner) stopCrawler(ctx context.Context, name string) error {
	got, err := d.catalog.GetCrawler(ctx, &glue.GetCrawlerInput{Name: aws.String(name)})
	if err != nil || got.Crawler.State != gluetypes.CrawlerStateRunning {
		return nil
	}
	fmt.Fprintf(d.out, "stopping crawler %s\n", name)
	if _, err := d.catalog.StopCrawler(ctx, &glue.StopCrawlerInput{Name: aws.String(name)}); err != nil {
		return err
	}
	return poll.Until(ctx, d.stopInterval, d.stopTimeout, func(ctx context.Context) (bool, error) {
		got, err := d.catalog.GetCrawler(ctx, &glue.GetCrawlerInput{Name: aws.String(name)})
		if err != nil {
			return false, err
		}
		return got.Crawler.State == gluetypes.CrawlerStateReady, nil
	})
}

func (d *Decommissioner) deleteWorkgroup(ctx context.Context, doc *state.Document) error {
	name := doc.Resources.Athena.Workgroup
	if name == "" {
		return nil
	}
	_, err := d.analytics.DeleteWorkGroup(ctx, &athena.DeleteWorkGroupInput{
		WorkGroup: aws.String(name),
		// Drops stored query executions along with the workgroup.
		RecursiveDeleteOption: aws.Bool(true),
	})
	if err != nil {
		if awsx.IsCode(err, "InvalidRequestException") {
			fmt.Fprintf(d.out, "Athena workgroup %s does not exist\n", name)
			return nil
		}
		return err
	}
	fmt.Fprintf(d.out, "deleted Athena workgroup %s\n", name)
	return nil
}

func (d *Decommissioner) deleteRole(ctx context.Context, doc *state.Document) error {
	name := doc.Resources.IAM.RoleName
	warn := color.New(color.FgYellow)

	if attached, err := d.roles.ListAttachedRolePolicies(ctx, &iam.ListAttachedRolePoliciesInput{
		RoleName: aws.String(name),
	}); err == nil {
		for _, policy := range attached.AttachedPolicies {
			if _, err := d.roles.DetachRolePolicy(ctx, &iam.DetachRolePolicyInput{
				RoleName:  aws.String(name),
				PolicyArn: policy.PolicyArn,
			}); err != nil {
				warn.Fprintf(d.out, "error detaching policy %s: %v\n", aws.ToString(policy.PolicyName), err)
			}
		}
	}

	if inline, err := d.roles.ListRolePolicies(ctx, &iam.ListRolePoliciesInput{
		RoleName: aws.String(name),
	}); err == nil {
		for _, policyName := range inline.PolicyNames {
			if _, err := d.roles.DeleteRolePolicy(ctx, &iam.DeleteRolePolicyInput{
				RoleName:   aws.String(name),
				PolicyName: aws.String(policyName),
			}); err != nil {
				warn.Fprintf(d.out, "error deleting inline policy %s: %v\n", policyName, err)
			}
		}
	}

	_, err := d.roles.DeleteRole(ctx, &iam.DeleteRoleInput{RoleName: aws.String(name)})
	if err != nil {
		if awsx.IsCode(err, "NoSuchEntity") {
			fmt.Fprintf(d.out, "IAM role %s does not exist\n", name)
			return nil
		}
		return err
	}
	fmt.Fprintf(d.out, "deleted IAM role %s\n", name)
	return nil
}

// cleanupLocal removes generated local artifacts.
func (d *Decommissioner) cleanupLocal(ctx context.Context, doc *state.Document) error {
	dir := d.QueriesDir
	if dir == "" {
		dir = "athena_queries"
	}
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	fmt.Fprintf(d.out, "removed %s\n", dir)
	return nil
}
