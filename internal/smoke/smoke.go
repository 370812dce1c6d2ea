// Package smoke drives a sample file through the deployed pipeline
// and validates each stage: upload, cross-region copy, crawler run,
// catalog contents, one query, and the copy function's logs.
package smoke

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	athenatypes "github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	cwltypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	gluetypes "github.com/aws/aws-sdk-go-v2/service/glue/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/fatih/color"

	"github.com/shuttlr-io/shuttlr/internal/awsx"
	"github.com/shuttlr-io/shuttlr/internal/config"
	"github.com/shuttlr-io/shuttlr/internal/poll"
	"github.com/shuttlr-io/shuttlr/internal/state"
)

const sampleKey = "customers.csv"

// Narrow views over the service clients, so tests fake only what the
// exerciser calls.

type objectStore interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

type catalogAPI interface {
	StartCrawler(ctx context.Context, in *glue.StartCrawlerInput, optFns ...func(*glue.Options)) (*glue.StartCrawlerOutput, error)
	GetCrawler(ctx context.Context, in *glue.GetCrawlerInput, optFns ...func(*glue.Options)) (*glue.GetCrawlerOutput, error)
	GetTables(ctx context.Context, in *glue.GetTablesInput, optFns ...func(*glue.Options)) (*glue.GetTablesOutput, error)
}

type queryAPI interface {
	StartQueryExecution(ctx context.Context, in *athena.StartQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error)
	GetQueryExecution(ctx context.Context, in *athena.GetQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error)
	GetQueryResults(ctx context.Context, in *athena.GetQueryResultsInput, optFns ...func(*athena.Options)) (*athena.GetQueryResultsOutput, error)
}

type logsAPI interface {
	DescribeLogStreams(ctx context.Context, in *cloudwatchlogs.DescribeLogStreamsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogStreamsOutput, error)
	GetLogEvents(ctx context.Context, in *cloudwatchlogs.GetLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.GetLogEventsOutput, error)
}

// StepResult records one step's outcome for the final summary.
type StepResult struct {
	Name   string
	Passed bool
}

// Exerciser runs the end-to-end smoke test. Steps are not
// independent; the first failure halts the sequence.
type Exerciser struct {
	sourceS3 objectStore
	targetS3 objectStore
	catalog  catalogAPI
	query    queryAPI
	logs     logsAPI

	pollCfg config.PollConfig
	out     io.Writer

	// SamplePath is the CSV uploaded as the pipeline's test payload.
	SamplePath string
}

// NewExerciser wires an exerciser against live clients.
func NewExerciser(clients *awsx.ClientSet, pollCfg config.PollConfig, out io.Writer) *Exerciser {
	if out == nil {
		out = os.Stdout
	}
	return &Exerciser{
		sourceS3:   clients.Source.S3,
		targetS3:   clients.Target.S3,
		catalog:    clients.Target.Glue,
		query:      clients.Target.Athena,
		logs:       clients.Target.Logs,
		pollCfg:    pollCfg,
		out:        out,
		SamplePath: "data/customers.csv",
	}
}

// Run executes the smoke sequence and prints a pass/fail summary.
// The returned error reports the first failed step.
func (e *Exerciser) Run(ctx context.Context, doc *state.Document) error {
	steps := []struct {
		name string
		fn   func(context.Context, *state.Document) error
	}{
		{"Upload test file", e.uploadSample},
		{"Check cross-region copy", e.awaitCopy},
		{"Run Glue crawler", e.runCrawler},
		{"Verify Glue catalog", e.verifyCatalog},
		{"Test Athena query", e.runQuery},
		{"Check Lambda logs", e.checkLogs},
	}

	var results []StepResult
	var failed error
	for _, step := range steps {
		fmt.Fprintf(e.out, "=== %s ===\n", step.name)
		err := step.fn(ctx, doc)
		results = append(results, StepResult{Name: step.name, Passed: err == nil})
		if err != nil {
			color.New(color.FgRed).Fprintf(e.out, "step failed: %v\n", err)
			failed = fmt.Errorf("%s: %w", step.name, err)
			break
		}
	}

	e.printSummary(results)
	return failed
}

func (e *Exerciser) printSummary(results []StepResult) {
	fmt.Fprintln(e.out, "\nTEST SUMMARY")
	pass := color.New(color.FgGreen)
	fail := color.New(color.FgRed)
	allPassed := true
	for _, r := range results {
		if r.Passed {
			pass.Fprintf(e.out, "PASS - %s\n", r.Name)
		} else {
			fail.Fprintf(e.out, "FAIL - %s\n", r.Name)
			allPassed = false
		}
	}
	if allPassed {
		pass.Fprintln(e.out, "\nAll pipeline stages verified.")
	} else {
		fail.Fprintln(e.out, "\nPipeline verification failed.")
	}
}

func (e *Exerciser) uploadSample(ctx context.Context, doc *state.Document) error {
	body, err := os.Open(e.SamplePath)
	if err != nil {
		return fmt.Errorf("opening sample file: %w", err)
	}
	defer body.Close()

	bucket := doc.Resources.S3.SourceBucket.Name
	if _, err := e.sourceS3.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(sampleKey),
		Body:   body,
	}); err != nil {
		return fmt.Errorf("uploading sample to %s: %w", bucket, err)
	}
	fmt.Fprintf(e.out, "uploaded %s to s3://%s/%s\n", e.SamplePath, bucket, sampleKey)
	return nil
}

// awaitCopy waits for the copy function to land the sample in the
// target bucket.
func (e *Exerciser) awaitCopy(ctx context.Context, doc *state.Document) error {
	bucket := doc.Resources.S3.TargetBucket.Name
	fmt.Fprintf(e.out, "waiting for s3://%s/%s\n", bucket, sampleKey)

	err := poll.Until(ctx, e.pollCfg.ReplicationInterval, e.pollCfg.ReplicationTimeout, func(ctx context.Context) (bool, error) {
		_, err := e.targetS3.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(sampleKey),
		})
		if err == nil {
			return true, nil
		}
		if awsx.IsNotFound(err) {
			return false, nil
		}
		return false, err
	})
	if err != nil {
		return fmt.Errorf("cross-region copy: %w", err)
	}
	fmt.Fprintf(e.out, "file copied to s3://%s/%s\n", bucket, sampleKey)
	return nil
}

func (e *Exerciser) runCrawler(ctx context.Context, doc *state.Document) error {
	name := doc.Resources.Glue.CrawlerName
	if _, err := e.catalog.StartCrawler(ctx, &glue.StartCrawlerInput{Name: aws.String(name)}); err != nil {
		return fmt.Errorf("starting crawler %s: %w", name, err)
	}
	fmt.Fprintf(e.out, "started crawler %s\n", name)

	err := poll.Until(ctx, e.pollCfg.CrawlerInterval, e.pollCfg.CrawlerTimeout, func(ctx context.Context) (bool, error) {
		out, err := e.catalog.GetCrawler(ctx, &glue.GetCrawlerInput{Name: aws.String(name)})
		if err != nil {
			return false, err
		}
		switch out.Crawler.State {
		case gluetypes.CrawlerStateReady:
			return true, nil
		case gluetypes.CrawlerStateRunning, gluetypes.CrawlerStateStopping:
			return false, nil
		default:
			return false, fmt.Errorf("crawler in unexpected state: %s", out.Crawler.State)
		}
	})
	if err != nil {
		return fmt.Errorf("crawler completion: %w", err)
	}
	fmt.Fprintln(e.out, "crawler completed")
	return nil
}

func (e *Exerciser) verifyCatalog(ctx context.Context, doc *state.Document) error {
	db := doc.Resources.Glue.DatabaseName
	out, err := e.catalog.GetTables(ctx, &glue.GetTablesInput{DatabaseName: aws.String(db)})
	if err != nil {
		return fmt.Errorf("listing tables in %s: %w", db, err)
	}
	if len(out.TableList) == 0 {
		return fmt.Errorf("no tables found in database %s", db)
	}
	for _, table := range out.TableList {
		cols := 0
		if table.StorageDescriptor != nil {
			cols = len(table.StorageDescriptor.Columns)
		}
		fmt.Fprintf(e.out, "  - %s (%d columns)\n", aws.ToString(table.Name), cols)
	}
	return nil
}

func (e *Exerciser) runQuery(ctx context.Context, doc *state.Document) error {
	db := doc.Resources.Glue.DatabaseName
	tables, err := e.catalog.GetTables(ctx, &glue.GetTablesInput{DatabaseName: aws.String(db)})
	if err != nil {
		return fmt.Errorf("listing tables in %s: %w", db, err)
	}
	if len(tables.TableList) == 0 {
		return fmt.Errorf("no tables available for querying")
	}
	table := aws.ToString(tables.TableList[0].Name)
	query := fmt.Sprintf(`SELECT * FROM "%s"."%s" LIMIT 5`, db, table)
	fmt.Fprintf(e.out, "executing query: %s\n", query)

	started, err := e.query.StartQueryExecution(ctx, &athena.StartQueryExecutionInput{
		QueryString: aws.String(query),
		WorkGroup:   aws.String(doc.Resources.Athena.Workgroup),
	})
	if err != nil {
		return fmt.Errorf("starting query: %w", err)
	}
	executionID := aws.ToString(started.QueryExecutionId)

	if err := e.awaitQuery(ctx, executionID); err != nil {
		return err
	}

	results, err := e.query.GetQueryResults(ctx, &athena.GetQueryResultsInput{
		QueryExecutionId: aws.String(executionID),
	})
	if err != nil {
		return fmt.Errorf("fetching query results: %w", err)
	}
	rows := results.ResultSet.Rows
	if len(rows) <= 1 {
		return fmt.Errorf("no data returned from query")
	}
	fmt.Fprintf(e.out, "query returned %d rows\n", len(rows)-1)
	renderRows(e.out, rows)
	return nil
}

// awaitQuery polls the execution until it succeeds or reaches a
// terminal failure state.
func (e *Exerciser) awaitQuery(ctx context.Context, executionID string) error {
	err := poll.Until(ctx, e.pollCfg.QueryInterval, e.pollCfg.QueryTimeout, func(ctx context.Context) (bool, error) {
		out, err := e.query.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{
			QueryExecutionId: aws.String(executionID),
		})
		if err != nil {
			return false, err
		}
		status := out.QueryExecution.Status
		switch status.State {
		case athenatypes.QueryExecutionStateSucceeded:
			return true, nil
		case athenatypes.QueryExecutionStateQueued, athenatypes.QueryExecutionStateRunning:
			return false, nil
		default:
			reason := aws.ToString(status.StateChangeReason)
			return false, fmt.Errorf("query failed with status %s: %s", status.State, reason)
		}
	})
	if err != nil {
		return fmt.Errorf("query completion: %w", err)
	}
	return nil
}

func (e *Exerciser) checkLogs(ctx context.Context, doc *state.Document) error {
	logGroup := "/aws/lambda/" + doc.Resources.Lambda.FunctionName

	streams, err := e.logs.DescribeLogStreams(ctx, &cloudwatchlogs.DescribeLogStreamsInput{
		LogGroupName: aws.String(logGroup),
		OrderBy:      cwltypes.OrderByLastEventTime,
		Descending:   aws.Bool(true),
		Limit:        aws.Int32(1),
	})
	if err != nil {
		return fmt.Errorf("listing log streams for %s: %w", logGroup, err)
	}
	if len(streams.LogStreams) == 0 {
		return fmt.Errorf("no log streams found for %s", logGroup)
	}

	events, err := e.logs.GetLogEvents(ctx, &cloudwatchlogs.GetLogEventsInput{
		LogGroupName:  aws.String(logGroup),
		LogStreamName: streams.LogStreams[0].LogStreamName,
		Limit:         aws.Int32(50),
	})
	if err != nil {
		return fmt.Errorf("fetching log events: %w", err)
	}
	if len(events.Events) == 0 {
		return fmt.Errorf("no recent log events found for %s", logGroup)
	}

	fmt.Fprintf(e.out, "found %d recent log events\n", len(events.Events))
	tail := events.Events
	if len(tail) > 5 {
		tail = tail[len(tail)-5:]
	}
	for _, event := range tail {
		ts := time.UnixMilli(aws.ToInt64(event.Timestamp))
		fmt.Fprintf(e.out, "  %s: %s\n", ts.Format(time.RFC3339), aws.ToString(event.Message))
	}
	return nil
}
