package provision

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/shuttlr-io/shuttlr/internal/awsx"
	"github.com/shuttlr-io/shuttlr/internal/logging"
	"github.com/shuttlr-io/shuttlr/internal/state"
)

// iamPropagationDelay gives a freshly created role time to become
// visible to Lambda before CreateFunction references it.
const iamPropagationDelay = 10 * time.Second

// Messaging provisions the event backbone: the SNS topic in the
// source region, the SQS queue in the target region, the cross-region
// subscription, the copy function and its queue trigger.
type Messaging struct {
	clients *awsx.ClientSet

	// now is swappable for deterministic topic/queue suffixes in tests.
	now func() time.Time
	// sleep is swappable so tests skip the IAM propagation wait.
	sleep func(time.Duration)
}

func NewMessaging(clients *awsx.ClientSet) *Messaging {
	return &Messaging{clients: clients, now: time.Now, sleep: time.Sleep}
}

func (m *Messaging) Name() string { return "messaging" }

func (m *Messaging) StatusKeys() []string {
	return []string{state.KeySNSTopic, state.KeySQSQueue, state.KeyLambdaFunction}
}

func (m *Messaging) Provision(ctx context.Context, doc *state.Document) error {
	topicARN, err := m.provisionTopic(ctx, doc)
	if err != nil {
		doc.SetStatus(state.KeySNSTopic, state.StatusFailed)
		return err
	}
	doc.SetStatus(state.KeySNSTopic, state.StatusCompleted)

	queueARN, err := m.provisionQueue(ctx, doc)
	if err != nil {
		doc.SetStatus(state.KeySQSQueue, state.StatusFailed)
		return err
	}
	if err := m.subscribeQueue(ctx, doc, topicARN, queueARN); err != nil {
		doc.SetStatus(state.KeySQSQueue, state.StatusFailed)
		return err
	}
	doc.SetStatus(state.KeySQSQueue, state.StatusCompleted)

	if err := m.provisionFunction(ctx, doc, queueARN); err != nil {
		doc.SetStatus(state.KeyLambdaFunction, state.StatusFailed)
		return err
	}
	doc.SetStatus(state.KeyLambdaFunction, state.StatusCompleted)
	return nil
}

// provisionTopic creates the topic with a timestamp suffix so a fresh
// run never collides with a prior name, then grants the source bucket
// publish rights. A document that already carries a topic ARN reuses
// it.
func (m *Messaging) provisionTopic(ctx context.Context, doc *state.Document) (string, error) {
	if doc.Resources.SNS.TopicARN != "" {
		return doc.Resources.SNS.TopicARN, nil
	}

	topicName := fmt.Sprintf("%s-%s", doc.Resources.SNS.TopicName, m.now().Format("20060102-150405"))
	logging.Info("creating SNS topic", "topic", topicName)

	out, err := m.clients.Source.SNS.CreateTopic(ctx, &sns.CreateTopicInput{
		Name: aws.String(topicName),
	})
	if err != nil {
		return "", fmt.Errorf("creating topic %s: %w", topicName, err)
	}
	topicARN := *out.TopicArn

	policy, err := s3PublishPolicy(topicARN, doc.AccountID, doc.Resources.S3.SourceBucket.Name)
	if err != nil {
		return "", err
	}
	if _, err := m.clients.Source.SNS.SetTopicAttributes(ctx, &sns.SetTopicAttributesInput{
		TopicArn:       aws.String(topicARN),
		AttributeName:  aws.String("Policy"),
		AttributeValue: aws.String(policy),
	}); err != nil {
		return "", fmt.Errorf("setting topic policy: %w", err)
	}

	doc.Resources.SNS.TopicName = topicName
	doc.Resources.SNS.TopicARN = topicARN
	return topicARN, nil
}

// provisionQueue creates the queue with a timestamp suffix, dodging
// the provider's 60-second name-reuse cooldown after deletion.
func (m *Messaging) provisionQueue(ctx context.Context, doc *state.Document) (string, error) {
	if doc.Resources.SQS.QueueARN != "" {
		return doc.Resources.SQS.QueueARN, nil
	}

	queueName := fmt.Sprintf("%s-%s", doc.Resources.SQS.QueueName, m.now().Format("20060102-150405"))
	logging.Info("creating SQS queue", "queue", queueName)

	out, err := m.clients.Target.SQS.CreateQueue(ctx, &sqs.CreateQueueInput{
		QueueName: aws.String(queueName),
		Attributes: map[string]string{
			"VisibilityTimeout":             "300",
			"MessageRetentionPeriod":        "1209600",
			"ReceiveMessageWaitTimeSeconds": "20",
		},
	})
	if err != nil {
		return "", fmt.Errorf("creating queue %s: %w", queueName, err)
	}
	queueURL := *out.QueueUrl

	attrs, err := m.clients.Target.SQS.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(queueURL),
		AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameQueueArn},
	})
	if err != nil {
		return "", fmt.Errorf("resolving queue ARN: %w", err)
	}
	queueARN := attrs.Attributes[string(sqstypes.QueueAttributeNameQueueArn)]

	doc.Resources.SQS.QueueName = queueName
	doc.Resources.SQS.QueueURL = queueURL
	doc.Resources.SQS.QueueARN = queueARN
	return queueARN, nil
}

// subscribeQueue grants the topic send rights on the queue and wires
// the cross-region subscription.
func (m *Messaging) subscribeQueue(ctx context.Context, doc *state.Document, topicARN, queueARN string) error {
	if doc.Resources.SQS.SubscribedToSNS {
		return nil
	}
	logging.Info("subscribing queue to topic", "queue", queueARN, "topic", topicARN)

	policy, err := snsSendPolicy(topicARN, queueARN)
	if err != nil {
		return err
	}
	if _, err := m.clients.Target.SQS.SetQueueAttributes(ctx, &sqs.SetQueueAttributesInput{
		QueueUrl:   aws.String(doc.Resources.SQS.QueueURL),
		Attributes: map[string]string{"Policy": policy},
	}); err != nil {
		return fmt.Errorf("setting queue policy: %w", err)
	}

	if _, err := m.clients.Source.SNS.Subscribe(ctx, &sns.SubscribeInput{
		TopicArn: aws.String(topicARN),
		Protocol: aws.String("sqs"),
		Endpoint: aws.String(queueARN),
	}); err != nil {
		return fmt.Errorf("subscribing queue to topic: %w", err)
	}

	doc.Resources.SQS.SubscribedToSNS = true
	return nil
}

func (m *Messaging) provisionFunction(ctx context.Context, doc *state.Document, queueARN string) error {
	functionName := doc.Resources.Lambda.FunctionName

	if got, err := m.clients.Target.Lambda.GetFunction(ctx, &lambda.GetFunctionInput{
		FunctionName: aws.String(functionName),
	}); err == nil {
		logging.Info("Lambda function already exists", "function", functionName)
		doc.Resources.Lambda.FunctionARN = *got.Configuration.FunctionArn
		return m.wireQueueTrigger(ctx, doc, queueARN)
	} else if !awsx.IsCode(err, "ResourceNotFoundException") {
		return fmt.Errorf("looking up function %s: %w", functionName, err)
	}

	logging.Info("creating Lambda function", "function", functionName)

	// Lambda rejects roles it cannot see yet.
	logging.Info("waiting for IAM role to propagate")
	m.sleep(iamPropagationDelay)

	payload, err := packageCopyHandler()
	if err != nil {
		return fmt.Errorf("packaging handler: %w", err)
	}

	out, err := m.clients.Target.Lambda.CreateFunction(ctx, &lambda.CreateFunctionInput{
		FunctionName: aws.String(functionName),
		Runtime:      lambdatypes.RuntimePython39,
		Role:         aws.String(doc.Resources.IAM.RoleARN),
		Handler:      aws.String("lambda_function.lambda_handler"),
		Code:         &lambdatypes.FunctionCode{ZipFile: payload},
		Description:  aws.String("Cross-region S3 copy function triggered by SQS"),
		Timeout:      aws.Int32(300),
		MemorySize:   aws.Int32(256),
		Environment: &lambdatypes.Environment{
			Variables: map[string]string{
				"SOURCE_REGION": doc.Regions.Source,
				"TARGET_REGION": doc.Regions.Target,
				"TARGET_BUCKET": doc.Resources.S3.TargetBucket.Name,
			},
		},
	})
	switch {
	case err == nil:
		doc.Resources.Lambda.FunctionARN = *out.FunctionArn
	case awsx.IsCode(err, "ResourceConflictException"):
		logging.Info("Lambda function already exists", "function", functionName)
		got, gerr := m.clients.Target.Lambda.GetFunction(ctx, &lambda.GetFunctionInput{
			FunctionName: aws.String(functionName),
		})
		if gerr != nil {
			return fmt.Errorf("looking up existing function %s: %w", functionName, gerr)
		}
		doc.Resources.Lambda.FunctionARN = *got.Configuration.FunctionArn
	default:
		return fmt.Errorf("creating function %s: %w", functionName, err)
	}

	return m.wireQueueTrigger(ctx, doc, queueARN)
}

// wireQueueTrigger maps the queue onto the function, reusing an
// existing mapping when a prior run already created one.
func (m *Messaging) wireQueueTrigger(ctx context.Context, doc *state.Document, queueARN string) error {
	functionName := doc.Resources.Lambda.FunctionName
	if doc.Resources.Lambda.MappingUUID != "" {
		return nil
	}

	out, err := m.clients.Target.Lambda.CreateEventSourceMapping(ctx, &lambda.CreateEventSourceMappingInput{
		EventSourceArn:                 aws.String(queueARN),
		FunctionName:                   aws.String(functionName),
		BatchSize:                      aws.Int32(10),
		MaximumBatchingWindowInSeconds: aws.Int32(5),
	})
	if err == nil {
		doc.Resources.Lambda.MappingUUID = *out.UUID
		return nil
	}
	if !awsx.IsCode(err, "ResourceConflictException") {
		return fmt.Errorf("creating event source mapping: %w", err)
	}

	logging.Info("queue trigger already exists", "function", functionName)
	mappings, lerr := m.clients.Target.Lambda.ListEventSourceMappings(ctx, &lambda.ListEventSourceMappingsInput{
		FunctionName: aws.String(functionName),
	})
	if lerr != nil {
		return fmt.Errorf("listing event source mappings: %w", lerr)
	}
	for _, mapping := range mappings.EventSourceMappings {
		if mapping.EventSourceArn != nil && *mapping.EventSourceArn == queueARN {
			doc.Resources.Lambda.MappingUUID = *mapping.UUID
			return nil
		}
	}
	return fmt.Errorf("creating event source mapping: %w", err)
}

// s3PublishPolicy renders the topic policy allowing the source bucket
// to publish object events.
func s3PublishPolicy(topicARN, accountID, sourceBucket string) (string, error) {
	policy := map[string]any{
		"Version": "2012-10-17",
		"Id":      "S3-to-SNS-Policy",
		"Statement": []map[string]any{
			{
				"Sid":       "AllowS3Publish",
				"Effect":    "Allow",
				"Principal": map[string]string{"Service": "s3.amazonaws.com"},
				"Action":    "SNS:Publish",
				"Resource":  topicARN,
				"Condition": map[string]any{
					"StringEquals": map[string]string{"aws:SourceAccount": accountID},
					"ArnEquals":    map[string]string{"aws:SourceArn": "arn:aws:s3:::" + sourceBucket},
				},
			},
		},
	}
	b, err := json.Marshal(policy)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// snsSendPolicy renders the queue policy allowing the topic to send
// messages.
func snsSendPolicy(topicARN, queueARN string) (string, error) {
	policy := map[string]any{
		"Version": "2012-10-17",
		"Statement": []map[string]any{
			{
				"Effect":    "Allow",
				"Principal": map[string]string{"Service": "sns.amazonaws.com"},
				"Action":    "sqs:SendMessage",
				"Resource":  queueARN,
				"Condition": map[string]any{
					"StringEquals": map[string]string{"aws:SourceArn": topicARN},
				},
			},
		},
	}
	b, err := json.Marshal(policy)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
