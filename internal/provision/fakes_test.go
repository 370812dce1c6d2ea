package provision

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	athenatypes "github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	gluetypes "github.com/aws/aws-sdk-go-v2/service/glue/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"

	"github.com/shuttlr-io/shuttlr/internal/awsx"
)

// In-memory provider fakes. Each fake records creation calls so tests
// can assert the idempotent short-circuit paths issue zero creates.

func apiError(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: code}
}

type fakeSTS struct {
	account string
}

func (f *fakeSTS) GetCallerIdentity(ctx context.Context, in *sts.GetCallerIdentityInput, _ ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	return &sts.GetCallerIdentityOutput{Account: aws.String(f.account)}, nil
}

type fakeIAM struct {
	roles       map[string]string // name -> arn
	createCalls int
	attachCalls int
	failCreate  error
}

func newFakeIAM() *fakeIAM {
	return &fakeIAM{roles: map[string]string{}}
}

func (f *fakeIAM) CreateRole(ctx context.Context, in *iam.CreateRoleInput, _ ...func(*iam.Options)) (*iam.CreateRoleOutput, error) {
	f.createCalls++
	if f.failCreate != nil {
		return nil, f.failCreate
	}
	name := *in.RoleName
	if _, ok := f.roles[name]; ok {
		return nil, apiError("EntityAlreadyExists")
	}
	arn := "arn:aws:iam::123456789012:role/" + name
	f.roles[name] = arn
	return &iam.CreateRoleOutput{Role: &iamtypes.Role{Arn: aws.String(arn)}}, nil
}

func (f *fakeIAM) GetRole(ctx context.Context, in *iam.GetRoleInput, _ ...func(*iam.Options)) (*iam.GetRoleOutput, error) {
	arn, ok := f.roles[*in.RoleName]
	if !ok {
		return nil, apiError("NoSuchEntity")
	}
	return &iam.GetRoleOutput{Role: &iamtypes.Role{Arn: aws.String(arn)}}, nil
}

func (f *fakeIAM) AttachRolePolicy(ctx context.Context, in *iam.AttachRolePolicyInput, _ ...func(*iam.Options)) (*iam.AttachRolePolicyOutput, error) {
	f.attachCalls++
	return &iam.AttachRolePolicyOutput{}, nil
}

func (f *fakeIAM) ListAttachedRolePolicies(ctx context.Context, in *iam.ListAttachedRolePoliciesInput, _ ...func(*iam.Options)) (*iam.ListAttachedRolePoliciesOutput, error) {
	return &iam.ListAttachedRolePoliciesOutput{}, nil
}

func (f *fakeIAM) DetachRolePolicy(ctx context.Context, in *iam.DetachRolePolicyInput, _ ...func(*iam.Options)) (*iam.DetachRolePolicyOutput, error) {
	return &iam.DetachRolePolicyOutput{}, nil
}

func (f *fakeIAM) ListRolePolicies(ctx context.Context, in *iam.ListRolePoliciesInput, _ ...func(*iam.Options)) (*iam.ListRolePoliciesOutput, error) {
	return &iam.ListRolePoliciesOutput{}, nil
}

func (f *fakeIAM) DeleteRolePolicy(ctx context.Context, in *iam.DeleteRolePolicyInput, _ ...func(*iam.Options)) (*iam.DeleteRolePolicyOutput, error) {
	return &iam.DeleteRolePolicyOutput{}, nil
}

func (f *fakeIAM) DeleteRole(ctx context.Context, in *iam.DeleteRoleInput, _ ...func(*iam.Options)) (*iam.DeleteRoleOutput, error) {
	delete(f.roles, *in.RoleName)
	return &iam.DeleteRoleOutput{}, nil
}

type fakeS3 struct {
	buckets       map[string]bool
	notifications map[string]*s3.PutBucketNotificationConfigurationInput
	createCalls int
	failCreate  error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		buckets:       map[string]bool{},
		notifications: map[string]*s3.PutBucketNotificationConfigurationInput{},
	}
}

func (f *fakeS3) CreateBucket(ctx context.Context, in *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.createCalls++
	if f.failCreate != nil {
		return nil, f.failCreate
	}
	name := *in.Bucket
	if f.buckets[name] {
		return nil, apiError("BucketAlreadyOwnedByYou")
	}
	f.buckets[name] = true
	return &s3.CreateBucketOutput{}, nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if !f.buckets[*in.Bucket] {
		return nil, apiError("NotFound")
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	return nil, apiError("NotFound")
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) PutBucketVersioning(ctx context.Context, in *s3.PutBucketVersioningInput, _ ...func(*s3.Options)) (*s3.PutBucketVersioningOutput, error) {
	return &s3.PutBucketVersioningOutput{}, nil
}

func (f *fakeS3) PutBucketEncryption(ctx context.Context, in *s3.PutBucketEncryptionInput, _ ...func(*s3.Options)) (*s3.PutBucketEncryptionOutput, error) {
	return &s3.PutBucketEncryptionOutput{}, nil
}

func (f *fakeS3) GetBucketNotificationConfiguration(ctx context.Context, in *s3.GetBucketNotificationConfigurationInput, _ ...func(*s3.Options)) (*s3.GetBucketNotificationConfigurationOutput, error) {
	return &s3.GetBucketNotificationConfigurationOutput{}, nil
}

func (f *fakeS3) PutBucketNotificationConfiguration(ctx context.Context, in *s3.PutBucketNotificationConfigurationInput, _ ...func(*s3.Options)) (*s3.PutBucketNotificationConfigurationOutput, error) {
	f.notifications[*in.Bucket] = in
	return &s3.PutBucketNotificationConfigurationOutput{}, nil
}

func (f *fakeS3) ListObjectVersions(ctx context.Context, in *s3.ListObjectVersionsInput, _ ...func(*s3.Options)) (*s3.ListObjectVersionsOutput, error) {
	return &s3.ListObjectVersionsOutput{}, nil
}

func (f *fakeS3) DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	return &s3.DeleteObjectsOutput{}, nil
}

func (f *fakeS3) DeleteBucket(ctx context.Context, in *s3.DeleteBucketInput, _ ...func(*s3.Options)) (*s3.DeleteBucketOutput, error) {
	delete(f.buckets, *in.Bucket)
	return &s3.DeleteBucketOutput{}, nil
}

type fakeSNS struct {
	topics      map[string]string // name -> arn
	createCalls int
	subscribes  int
}

func newFakeSNS() *fakeSNS {
	return &fakeSNS{topics: map[string]string{}}
}

func (f *fakeSNS) CreateTopic(ctx context.Context, in *sns.CreateTopicInput, _ ...func(*sns.Options)) (*sns.CreateTopicOutput, error) {
	f.createCalls++
	name := *in.Name
	arn := "arn:aws:sns:us-east-1:123456789012:" + name
	f.topics[name] = arn
	return &sns.CreateTopicOutput{TopicArn: aws.String(arn)}, nil
}

func (f *fakeSNS) SetTopicAttributes(ctx context.Context, in *sns.SetTopicAttributesInput, _ ...func(*sns.Options)) (*sns.SetTopicAttributesOutput, error) {
	return &sns.SetTopicAttributesOutput{}, nil
}

func (f *fakeSNS) Subscribe(ctx context.Context, in *sns.SubscribeInput, _ ...func(*sns.Options)) (*sns.SubscribeOutput, error) {
	f.subscribes++
	return &sns.SubscribeOutput{SubscriptionArn: aws.String(*in.TopicArn + ":subscription")}, nil
}

func (f *fakeSNS) DeleteTopic(ctx context.Context, in *sns.DeleteTopicInput, _ ...func(*sns.Options)) (*sns.DeleteTopicOutput, error) {
	return &sns.DeleteTopicOutput{}, nil
}

type fakeSQS struct {
	queues      map[string]string // url -> arn
	createCalls int
}

func newFakeSQS() *fakeSQS {
	return &fakeSQS{queues: map[string]string{}}
}

func (f *fakeSQS) CreateQueue(ctx context.Context, in *sqs.CreateQueueInput, _ ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error) {
	f.createCalls++
	name := *in.QueueName
	url := "https://sqs.us-east-1.amazonaws.com/123456789012/" + name
	f.queues[url] = "arn:aws:sqs:us-east-1:123456789012:" + name
	return &sqs.CreateQueueOutput{QueueUrl: aws.String(url)}, nil
}

func (f *fakeSQS) GetQueueAttributes(ctx context.Context, in *sqs.GetQueueAttributesInput, _ ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	arn, ok := f.queues[*in.QueueUrl]
	if !ok {
		return nil, apiError("AWS.SimpleQueueService.NonExistentQueue")
	}
	return &sqs.GetQueueAttributesOutput{Attributes: map[string]string{"QueueArn": arn}}, nil
}

func (f *fakeSQS) SetQueueAttributes(ctx context.Context, in *sqs.SetQueueAttributesInput, _ ...func(*sqs.Options)) (*sqs.SetQueueAttributesOutput, error) {
	return &sqs.SetQueueAttributesOutput{}, nil
}

func (f *fakeSQS) DeleteQueue(ctx context.Context, in *sqs.DeleteQueueInput, _ ...func(*sqs.Options)) (*sqs.DeleteQueueOutput, error) {
	delete(f.queues, *in.QueueUrl)
	return &sqs.DeleteQueueOutput{}, nil
}

type fakeLambda struct {
	functions   map[string]string // name -> arn
	mappings    map[string]string // event source arn -> uuid
	createCalls int
}

func newFakeLambda() *fakeLambda {
	return &fakeLambda{functions: map[string]string{}, mappings: map[string]string{}}
}

func (f *fakeLambda) CreateFunction(ctx context.Context, in *lambda.CreateFunctionInput, _ ...func(*lambda.Options)) (*lambda.CreateFunctionOutput, error) {
	f.createCalls++
	name := *in.FunctionName
	if _, ok := f.functions[name]; ok {
		return nil, apiError("ResourceConflictException")
	}
	arn := "arn:aws:lambda:us-east-1:123456789012:function:" + name
	f.functions[name] = arn
	return &lambda.CreateFunctionOutput{FunctionArn: aws.String(arn)}, nil
}

func (f *fakeLambda) GetFunction(ctx context.Context, in *lambda.GetFunctionInput, _ ...func(*lambda.Options)) (*lambda.GetFunctionOutput, error) {
	arn, ok := f.functions[*in.FunctionName]
	if !ok {
		return nil, apiError("ResourceNotFoundException")
	}
	return &lambda.GetFunctionOutput{
		Configuration: &lambdatypes.FunctionConfiguration{FunctionArn: aws.String(arn)},
	}, nil
}

func (f *fakeLambda) CreateEventSourceMapping(ctx context.Context, in *lambda.CreateEventSourceMappingInput, _ ...func(*lambda.Options)) (*lambda.CreateEventSourceMappingOutput, error) {
	src := *in.EventSourceArn
	if _, ok := f.mappings[src]; ok {
		return nil, apiError("ResourceConflictException")
	}
	uuid := fmt.Sprintf("mapping-%d", len(f.mappings)+1)
	f.mappings[src] = uuid
	return &lambda.CreateEventSourceMappingOutput{UUID: aws.String(uuid)}, nil
}

func (f *fakeLambda) ListEventSourceMappings(ctx context.Context, in *lambda.ListEventSourceMappingsInput, _ ...func(*lambda.Options)) (*lambda.ListEventSourceMappingsOutput, error) {
	out := &lambda.ListEventSourceMappingsOutput{}
	for src, uuid := range f.mappings {
		out.EventSourceMappings = append(out.EventSourceMappings, lambdatypes.EventSourceMappingConfiguration{
			EventSourceArn: aws.String(src),
			UUID:           aws.String(uuid),
		})
	}
	return out, nil
}

func (f *fakeLambda) DeleteEventSourceMapping(ctx context.Context, in *lambda.DeleteEventSourceMappingInput, _ ...func(*lambda.Options)) (*lambda.DeleteEventSourceMappingOutput, error) {
	for src, uuid := range f.mappings {
		if uuid == *in.UUID {
			delete(f.mappings, src)
			return &lambda.DeleteEventSourceMappingOutput{}, nil
		}
	}
	return nil, apiError("ResourceNotFoundException")
}

func (f *fakeLambda) DeleteFunction(ctx context.Context, in *lambda.DeleteFunctionInput, _ ...func(*lambda.Options)) (*lambda.DeleteFunctionOutput, error) {
	delete(f.functions, *in.FunctionName)
	return &lambda.DeleteFunctionOutput{}, nil
}

type fakeGlue struct {
	databases   map[string]bool
	classifiers map[string]bool
	crawlers    map[string]bool
	createCalls int
}

func newFakeGlue() *fakeGlue {
	return &fakeGlue{
		databases:   map[string]bool{},
		classifiers: map[string]bool{},
		crawlers:    map[string]bool{},
	}
}

func (f *fakeGlue) GetDatabase(ctx context.Context, in *glue.GetDatabaseInput, _ ...func(*glue.Options)) (*glue.GetDatabaseOutput, error) {
	if !f.databases[*in.Name] {
		return nil, apiError("EntityNotFoundException")
	}
	return &glue.GetDatabaseOutput{Database: &gluetypes.Database{Name: in.Name}}, nil
}

func (f *fakeGlue) CreateDatabase(ctx context.Context, in *glue.CreateDatabaseInput, _ ...func(*glue.Options)) (*glue.CreateDatabaseOutput, error) {
	f.createCalls++
	f.databases[*in.DatabaseInput.Name] = true
	return &glue.CreateDatabaseOutput{}, nil
}

func (f *fakeGlue) GetClassifier(ctx context.Context, in *glue.GetClassifierInput, _ ...func(*glue.Options)) (*glue.GetClassifierOutput, error) {
	if !f.classifiers[*in.Name] {
		return nil, apiError("EntityNotFoundException")
	}
	return &glue.GetClassifierOutput{}, nil
}

func (f *fakeGlue) CreateClassifier(ctx context.Context, in *glue.CreateClassifierInput, _ ...func(*glue.Options)) (*glue.CreateClassifierOutput, error) {
	f.createCalls++
	f.classifiers[*in.CsvClassifier.Name] = true
	return &glue.CreateClassifierOutput{}, nil
}

func (f *fakeGlue) GetCrawler(ctx context.Context, in *glue.GetCrawlerInput, _ ...func(*glue.Options)) (*glue.GetCrawlerOutput, error) {
	if !f.crawlers[*in.Name] {
		return nil, apiError("EntityNotFoundException")
	}
	return &glue.GetCrawlerOutput{
		Crawler: &gluetypes.Crawler{Name: in.Name, State: gluetypes.CrawlerStateReady},
	}, nil
}

func (f *fakeGlue) CreateCrawler(ctx context.Context, in *glue.CreateCrawlerInput, _ ...func(*glue.Options)) (*glue.CreateCrawlerOutput, error) {
	f.createCalls++
	f.crawlers[*in.Name] = true
	return &glue.CreateCrawlerOutput{}, nil
}

func (f *fakeGlue) StartCrawler(ctx context.Context, in *glue.StartCrawlerInput, _ ...func(*glue.Options)) (*glue.StartCrawlerOutput, error) {
	return &glue.StartCrawlerOutput{}, nil
}

func (f *fakeGlue) StopCrawler(ctx context.Context, in *glue.StopCrawlerInput, _ ...func(*glue.Options)) (*glue.StopCrawlerOutput, error) {
	return &glue.StopCrawlerOutput{}, nil
}

func (f *fakeGlue) GetTables(ctx context.Context, in *glue.GetTablesInput, _ ...func(*glue.Options)) (*glue.GetTablesOutput, error) {
	return &glue.GetTablesOutput{}, nil
}

func (f *fakeGlue) DeleteCrawler(ctx context.Context, in *glue.DeleteCrawlerInput, _ ...func(*glue.Options)) (*glue.DeleteCrawlerOutput, error) {
	delete(f.crawlers, *in.Name)
	return &glue.DeleteCrawlerOutput{}, nil
}

func (f *fakeGlue) DeleteClassifier(ctx context.Context, in *glue.DeleteClassifierInput, _ ...func(*glue.Options)) (*glue.DeleteClassifierOutput, error) {
	delete(f.classifiers, *in.Name)
	return &glue.DeleteClassifierOutput{}, nil
}

func (f *fakeGlue) DeleteDatabase(ctx context.Context, in *glue.DeleteDatabaseInput, _ ...func(*glue.Options)) (*glue.DeleteDatabaseOutput, error) {
	delete(f.databases, *in.Name)
	return &glue.DeleteDatabaseOutput{}, nil
}

type fakeAthena struct {
	workgroups  map[string]string // name -> output location
	createCalls int
	updateCalls int
}

func newFakeAthena() *fakeAthena {
	return &fakeAthena{workgroups: map[string]string{}}
}

func (f *fakeAthena) GetWorkGroup(ctx context.Context, in *athena.GetWorkGroupInput, _ ...func(*athena.Options)) (*athena.GetWorkGroupOutput, error) {
	location, ok := f.workgroups[*in.WorkGroup]
	if !ok {
		return nil, apiError("InvalidRequestException")
	}
	return &athena.GetWorkGroupOutput{
		WorkGroup: &athenatypes.WorkGroup{
			Name: in.WorkGroup,
			Configuration: &athenatypes.WorkGroupConfiguration{
				ResultConfiguration: &athenatypes.ResultConfiguration{
					OutputLocation: aws.String(location),
				},
			},
		},
	}, nil
}

func (f *fakeAthena) CreateWorkGroup(ctx context.Context, in *athena.CreateWorkGroupInput, _ ...func(*athena.Options)) (*athena.CreateWorkGroupOutput, error) {
	f.createCalls++
	location := ""
	if in.Configuration != nil && in.Configuration.ResultConfiguration != nil && in.Configuration.ResultConfiguration.OutputLocation != nil {
		location = *in.Configuration.ResultConfiguration.OutputLocation
	}
	f.workgroups[*in.Name] = location
	return &athena.CreateWorkGroupOutput{}, nil
}

func (f *fakeAthena) UpdateWorkGroup(ctx context.Context, in *athena.UpdateWorkGroupInput, _ ...func(*athena.Options)) (*athena.UpdateWorkGroupOutput, error) {
	f.updateCalls++
	if in.ConfigurationUpdates != nil && in.ConfigurationUpdates.ResultConfigurationUpdates != nil && in.ConfigurationUpdates.ResultConfigurationUpdates.OutputLocation != nil {
		f.workgroups[*in.WorkGroup] = *in.ConfigurationUpdates.ResultConfigurationUpdates.OutputLocation
	}
	return &athena.UpdateWorkGroupOutput{}, nil
}

func (f *fakeAthena) StartQueryExecution(ctx context.Context, in *athena.StartQueryExecutionInput, _ ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error) {
	return &athena.StartQueryExecutionOutput{QueryExecutionId: aws.String("qe-1")}, nil
}

func (f *fakeAthena) GetQueryExecution(ctx context.Context, in *athena.GetQueryExecutionInput, _ ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error) {
	return &athena.GetQueryExecutionOutput{}, nil
}

func (f *fakeAthena) GetQueryResults(ctx context.Context, in *athena.GetQueryResultsInput, _ ...func(*athena.Options)) (*athena.GetQueryResultsOutput, error) {
	return &athena.GetQueryResultsOutput{}, nil
}

func (f *fakeAthena) DeleteWorkGroup(ctx context.Context, in *athena.DeleteWorkGroupInput, _ ...func(*athena.Options)) (*athena.DeleteWorkGroupOutput, error) {
	delete(f.workgroups, *in.WorkGroup)
	return &athena.DeleteWorkGroupOutput{}, nil
}

type fakeLogs struct{}

func (f *fakeLogs) DescribeLogStreams(ctx context.Context, in *cloudwatchlogs.DescribeLogStreamsInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogStreamsOutput, error) {
	return &cloudwatchlogs.DescribeLogStreamsOutput{}, nil
}

func (f *fakeLogs) GetLogEvents(ctx context.Context, in *cloudwatchlogs.GetLogEventsInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.GetLogEventsOutput, error) {
	return &cloudwatchlogs.GetLogEventsOutput{}, nil
}

// fakeProvider bundles all fakes behind a ClientSet. One fake per
// service is shared across both regions; region routing is not under
// test here.
type fakeProvider struct {
	sts    *fakeSTS
	iam    *fakeIAM
	s3     *fakeS3
	sns    *fakeSNS
	sqs    *fakeSQS
	lambda *fakeLambda
	glue   *fakeGlue
	athena *fakeAthena
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		sts:    &fakeSTS{account: "123456789012"},
		iam:    newFakeIAM(),
		s3:     newFakeS3(),
		sns:    newFakeSNS(),
		sqs:    newFakeSQS(),
		lambda: newFakeLambda(),
		glue:   newFakeGlue(),
		athena: newFakeAthena(),
	}
}

func (p *fakeProvider) clientSet() *awsx.ClientSet {
	bundle := func(region string) *awsx.Clients {
		return &awsx.Clients{
			Region: region,
			S3:     p.s3,
			SNS:    p.sns,
			SQS:    p.sqs,
			Lambda: p.lambda,
			Glue:   p.glue,
			Athena: p.athena,
			Logs:   &fakeLogs{},
		}
	}
	return &awsx.ClientSet{
		Source: bundle("us-east-1"),
		Target: bundle("us-west-2"),
		IAM:    p.iam,
		STS:    p.sts,
	}
}

// createCalls sums every resource creation call across all services.
func (p *fakeProvider) createCalls() int {
	return p.iam.createCalls +
		p.s3.createCalls +
		p.sns.createCalls +
		p.sqs.createCalls +
		p.lambda.createCalls +
		p.glue.createCalls +
		p.athena.createCalls
}
