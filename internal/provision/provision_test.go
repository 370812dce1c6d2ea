package provision

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shuttlr-io/shuttlr/internal/state"
)

func testStore(t *testing.T) *state.Store {
	t.Helper()
	store := state.NewStore(filepath.Join(t.TempDir(), "run_data.json"))
	require.NoError(t, store.Save(state.Seed("us-east-1", "us-west-2")))
	return store
}

func newTestMessaging(p *fakeProvider) *Messaging {
	m := NewMessaging(p.clientSet())
	m.now = func() time.Time { return time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC) }
	m.sleep = func(time.Duration) {}
	return m
}

func TestFoundation_Provision(t *testing.T) {
	p := newFakeProvider()
	doc := state.Seed("us-east-1", "us-west-2")

	f := NewFoundation(p.clientSet())
	require.NoError(t, f.Provision(context.Background(), doc))

	assert.Equal(t, "123456789012", doc.AccountID)
	assert.Equal(t, "arn:aws:iam::123456789012:role/s3-shuttle-pipeline-role", doc.Resources.IAM.RoleARN)
	assert.Equal(t, "s3-shuttle-source-123456789012-us-east-1", doc.Resources.S3.SourceBucket.Name)
	assert.Equal(t, "s3-shuttle-target-123456789012-us-west-2", doc.Resources.S3.TargetBucket.Name)
	assert.Equal(t, state.StatusCompleted, doc.StatusOf(state.KeyIAMRole))
	assert.Equal(t, state.StatusCompleted, doc.StatusOf(state.KeyS3Buckets))
	assert.Equal(t, 5, p.iam.attachCalls)
}

func TestFoundation_Idempotent(t *testing.T) {
	p := newFakeProvider()
	doc := state.Seed("us-east-1", "us-west-2")
	f := NewFoundation(p.clientSet())

	require.NoError(t, f.Provision(context.Background(), doc))
	firstARN := doc.Resources.IAM.RoleARN
	creates := p.createCalls()

	require.NoError(t, f.Provision(context.Background(), doc))
	assert.Equal(t, firstARN, doc.Resources.IAM.RoleARN)
	assert.Equal(t, creates, p.createCalls(), "second run must issue zero creation calls")
}

func TestFoundation_RoleFailureMarksFailed(t *testing.T) {
	p := newFakeProvider()
	p.iam.failCreate = errors.New("throttled")
	doc := state.Seed("us-east-1", "us-west-2")

	f := NewFoundation(p.clientSet())
	err := f.Provision(context.Background(), doc)
	require.Error(t, err)
	assert.Equal(t, state.StatusFailed, doc.StatusOf(state.KeyIAMRole))
	assert.Equal(t, state.StatusPending, doc.StatusOf(state.KeyS3Buckets))
}

func TestMessaging_Provision(t *testing.T) {
	p := newFakeProvider()
	doc := state.Seed("us-east-1", "us-west-2")
	doc.AccountID = "123456789012"
	doc.Resources.IAM.RoleARN = "arn:aws:iam::123456789012:role/s3-shuttle-pipeline-role"
	doc.Resources.S3.SourceBucket.Name = "src-bucket"
	doc.Resources.S3.TargetBucket.Name = "tgt-bucket"

	m := newTestMessaging(p)
	require.NoError(t, m.Provision(context.Background(), doc))

	assert.Equal(t, "s3-shuttle-events-20260314-093000", doc.Resources.SNS.TopicName)
	assert.NotEmpty(t, doc.Resources.SNS.TopicARN)
	assert.Equal(t, "s3-shuttle-copy-queue-20260314-093000", doc.Resources.SQS.QueueName)
	assert.NotEmpty(t, doc.Resources.SQS.QueueARN)
	assert.True(t, doc.Resources.SQS.SubscribedToSNS)
	assert.NotEmpty(t, doc.Resources.Lambda.FunctionARN)
	assert.NotEmpty(t, doc.Resources.Lambda.MappingUUID)
	for _, key := range []string{state.KeySNSTopic, state.KeySQSQueue, state.KeyLambdaFunction} {
		assert.Equal(t, state.StatusCompleted, doc.StatusOf(key), key)
	}
}

func TestMessaging_Idempotent(t *testing.T) {
	p := newFakeProvider()
	doc := state.Seed("us-east-1", "us-west-2")
	doc.AccountID = "123456789012"
	doc.Resources.IAM.RoleARN = "arn:aws:iam::123456789012:role/s3-shuttle-pipeline-role"
	doc.Resources.S3.SourceBucket.Name = "src-bucket"
	doc.Resources.S3.TargetBucket.Name = "tgt-bucket"

	m := newTestMessaging(p)
	require.NoError(t, m.Provision(context.Background(), doc))
	topicARN := doc.Resources.SNS.TopicARN
	queueARN := doc.Resources.SQS.QueueARN
	creates := p.createCalls()

	require.NoError(t, m.Provision(context.Background(), doc))
	assert.Equal(t, topicARN, doc.Resources.SNS.TopicARN)
	assert.Equal(t, queueARN, doc.Resources.SQS.QueueARN)
	assert.Equal(t, creates, p.createCalls(), "second run must issue zero creation calls")
	assert.Equal(t, 1, p.sns.subscribes)
}

func TestCatalog_Provision(t *testing.T) {
	p := newFakeProvider()
	doc := state.Seed("us-east-1", "us-west-2")
	doc.AccountID = "123456789012"
	doc.Resources.IAM.RoleARN = "arn:aws:iam::123456789012:role/s3-shuttle-pipeline-role"
	doc.Resources.S3.TargetBucket.Name = "tgt-bucket"

	c := NewCatalog(p.clientSet())
	require.NoError(t, c.Provision(context.Background(), doc))

	assert.Equal(t, csvClassifierName, doc.Resources.Glue.ClassifierName)
	assert.Equal(t, "arn:aws:glue:us-west-2:123456789012:crawler/s3-shuttle-crawler", doc.Resources.Glue.CrawlerARN)
	assert.Equal(t, "s3://tgt-bucket/", doc.Resources.Glue.TargetPath)
	assert.Equal(t, state.StatusCompleted, doc.StatusOf(state.KeyGlueCrawler))

	creates := p.createCalls()
	require.NoError(t, c.Provision(context.Background(), doc))
	assert.Equal(t, creates, p.createCalls(), "second run must issue zero creation calls")
}

func TestAnalytics_Provision(t *testing.T) {
	p := newFakeProvider()
	doc := state.Seed("us-east-1", "us-west-2")
	doc.AccountID = "123456789012"
	doc.Resources.S3.SourceBucket.Name = "src-bucket"
	doc.Resources.SNS.TopicARN = "arn:aws:sns:us-east-1:123456789012:s3-shuttle-events-x"
	p.s3.buckets["src-bucket"] = true

	a := NewAnalytics(p.clientSet())
	a.QueriesDir = filepath.Join(t.TempDir(), "athena_queries")
	require.NoError(t, a.Provision(context.Background(), doc))

	assert.Equal(t, "aws-athena-query-results-123456789012-us-west-2", doc.Resources.Athena.ResultsBucket)
	assert.Equal(t, "s3://aws-athena-query-results-123456789012-us-west-2/", doc.Resources.Athena.QueryResultLocation)
	assert.Equal(t, state.StatusCompleted, doc.StatusOf(state.KeyS3Notifications))
	assert.Equal(t, state.StatusCompleted, doc.StatusOf(state.KeyAthenaSetup))

	note := p.s3.notifications["src-bucket"]
	require.NotNil(t, note)
	require.Len(t, note.NotificationConfiguration.TopicConfigurations, 1)
	assert.Equal(t, doc.Resources.SNS.TopicARN, *note.NotificationConfiguration.TopicConfigurations[0].TopicArn)

	queries, err := filepath.Glob(filepath.Join(a.QueriesDir, "*.sql"))
	require.NoError(t, err)
	assert.Len(t, queries, 4)

	creates := p.createCalls()
	require.NoError(t, a.Provision(context.Background(), doc))
	assert.Equal(t, creates, p.createCalls(), "second run must issue zero creation calls")
}

// stubProvisioner records invocations for orchestrator policy tests.
type stubProvisioner struct {
	name  string
	keys  []string
	err   error
	calls int
}

func (s *stubProvisioner) Name() string         { return s.name }
func (s *stubProvisioner) StatusKeys() []string { return s.keys }

func (s *stubProvisioner) Provision(ctx context.Context, doc *state.Document) error {
	s.calls++
	for _, k := range s.keys {
		if s.err != nil {
			doc.SetStatus(k, state.StatusFailed)
		} else {
			doc.SetStatus(k, state.StatusCompleted)
		}
	}
	return s.err
}

func TestOrchestrator_SkipCompleted(t *testing.T) {
	store := testStore(t)
	doc, err := store.Load()
	require.NoError(t, err)
	for _, k := range state.GroupKeys {
		doc.SetStatus(k, state.StatusCompleted)
	}
	require.NoError(t, store.Save(doc))

	a := &stubProvisioner{name: "a", keys: []string{state.KeyIAMRole, state.KeyS3Buckets}}
	b := &stubProvisioner{name: "b", keys: []string{state.KeySNSTopic, state.KeySQSQueue, state.KeyLambdaFunction}}
	c := &stubProvisioner{name: "c", keys: []string{state.KeyGlueCrawler}}
	d := &stubProvisioner{name: "d", keys: []string{state.KeyS3Notifications, state.KeyAthenaSetup}}

	o := NewOrchestrator(store, a, b, c, d)
	require.NoError(t, o.Deploy(context.Background()))
	assert.Zero(t, a.calls+b.calls+c.calls+d.calls)
}

func TestOrchestrator_FailFast(t *testing.T) {
	store := testStore(t)

	a := &stubProvisioner{name: "a", keys: []string{state.KeyIAMRole, state.KeyS3Buckets}}
	b := &stubProvisioner{name: "b", keys: []string{state.KeySNSTopic, state.KeySQSQueue, state.KeyLambdaFunction}, err: errors.New("boom")}
	c := &stubProvisioner{name: "c", keys: []string{state.KeyGlueCrawler}}

	o := NewOrchestrator(store, a, b, c)
	err := o.Deploy(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
	assert.Zero(t, c.calls, "groups after the failure must never run")

	doc, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, state.StatusFailed, doc.StatusOf(state.KeySNSTopic))
	assert.Equal(t, state.StatusCompleted, doc.StatusOf(state.KeyIAMRole))
}

func TestOrchestrator_EndToEnd(t *testing.T) {
	store := testStore(t)
	p := newFakeProvider()
	clients := p.clientSet()

	analytics := NewAnalytics(clients)
	analytics.QueriesDir = filepath.Join(t.TempDir(), "athena_queries")

	o := NewOrchestrator(store,
		NewFoundation(clients),
		newTestMessaging(p),
		NewCatalog(clients),
		analytics,
	)
	require.NoError(t, o.Deploy(context.Background()))

	doc, err := store.Load()
	require.NoError(t, err)
	for _, k := range state.GroupKeys {
		assert.Equal(t, state.StatusCompleted, doc.StatusOf(k), k)
	}
	assert.NotEmpty(t, doc.Resources.IAM.RoleARN)
	assert.NotEmpty(t, doc.Resources.S3.SourceBucket.Name)
	assert.NotEmpty(t, doc.Resources.S3.TargetBucket.Name)
	assert.NotEmpty(t, doc.Resources.SNS.TopicARN)
	assert.NotEmpty(t, doc.Resources.SQS.QueueURL)
	assert.NotEmpty(t, doc.Resources.Lambda.FunctionARN)
	assert.NotEmpty(t, doc.Resources.Glue.CrawlerARN)
	assert.NotEmpty(t, doc.Resources.Athena.QueryResultLocation)
	assert.NotEmpty(t, doc.LastRun)

	// Second deploy is a pure no-op at the provider.
	creates := p.createCalls()
	require.NoError(t, o.Deploy(context.Background()))
	assert.Equal(t, creates, p.createCalls())
}
