package awsx

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// Clients bundles one region's service clients.
type Clients struct {
	Region string

	S3     S3API
	SNS    SNSAPI
	SQS    SQSAPI
	Lambda LambdaAPI
	Glue   GlueAPI
	Athena AthenaAPI
	Logs   LogsAPI
}

// NewClients loads the default credential chain pinned to region and
// builds the full service bundle from the one shared config.
func NewClients(ctx context.Context, region string) (*Clients, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config for %s: %w", region, err)
	}
	return &Clients{
		Region: region,
		S3:     s3.NewFromConfig(cfg),
		SNS:    sns.NewFromConfig(cfg),
		SQS:    sqs.NewFromConfig(cfg),
		Lambda: lambda.NewFromConfig(cfg),
		Glue:   glue.NewFromConfig(cfg),
		Athena: athena.NewFromConfig(cfg),
		Logs:   cloudwatchlogs.NewFromConfig(cfg),
	}, nil
}

// ClientSet holds clients for both pipeline regions plus the global
// services. Source-region clients talk to the bucket that receives
// uploads; everything downstream of replication lives in the target
// region.
type ClientSet struct {
	Source *Clients
	Target *Clients

	IAM IAMAPI
	STS STSAPI
}

// NewClientSet builds clients for the source and target regions. IAM
// and STS are global; they are constructed against the source region's
// config.
func NewClientSet(ctx context.Context, sourceRegion, targetRegion string) (*ClientSet, error) {
	src, err := NewClients(ctx, sourceRegion)
	if err != nil {
		return nil, err
	}
	tgt, err := NewClients(ctx, targetRegion)
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(sourceRegion))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config for %s: %w", sourceRegion, err)
	}
	return &ClientSet{
		Source: src,
		Target: tgt,
		IAM:    iam.NewFromConfig(cfg),
		STS:    sts.NewFromConfig(cfg),
	}, nil
}

// AccountID resolves the calling account via STS.
func (cs *ClientSet) AccountID(ctx context.Context) (string, error) {
	out, err := cs.STS.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("resolving caller identity: %w", err)
	}
	return *out.Account, nil
}
