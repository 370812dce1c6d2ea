package provision

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/shuttlr-io/shuttlr/internal/awsx"
	"github.com/shuttlr-io/shuttlr/internal/logging"
	"github.com/shuttlr-io/shuttlr/internal/state"
)

// pipelineTrustPolicy lets Lambda and Glue assume the pipeline role.
const pipelineTrustPolicy = `{
  "Version": "2012-10-17",
  "Statement": [
    {
      "Effect": "Allow",
      "Principal": {
        "Service": ["lambda.amazonaws.com", "glue.amazonaws.com"]
      },
      "Action": "sts:AssumeRole"
    }
  ]
}`

// Foundation provisions the identity role and the two pipeline
// buckets. Everything downstream depends on both.
type Foundation struct {
	clients *awsx.ClientSet
}

func NewFoundation(clients *awsx.ClientSet) *Foundation {
	return &Foundation{clients: clients}
}

func (f *Foundation) Name() string { return "foundation" }

func (f *Foundation) StatusKeys() []string {
	return []string{state.KeyIAMRole, state.KeyS3Buckets}
}

func (f *Foundation) Provision(ctx context.Context, doc *state.Document) error {
	accountID, err := f.clients.AccountID(ctx)
	if err != nil {
		doc.SetStatus(state.KeyIAMRole, state.StatusFailed)
		return err
	}
	doc.AccountID = accountID

	if err := f.provisionRole(ctx, doc); err != nil {
		doc.SetStatus(state.KeyIAMRole, state.StatusFailed)
		return err
	}
	doc.SetStatus(state.KeyIAMRole, state.StatusCompleted)

	if err := f.provisionBuckets(ctx, doc, accountID); err != nil {
		doc.SetStatus(state.KeyS3Buckets, state.StatusFailed)
		return err
	}
	doc.SetStatus(state.KeyS3Buckets, state.StatusCompleted)
	return nil
}

func (f *Foundation) provisionRole(ctx context.Context, doc *state.Document) error {
	roleName := doc.Resources.IAM.RoleName

	if got, err := f.clients.IAM.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(roleName)}); err == nil {
		logging.Info("IAM role already exists", "role", roleName)
		doc.Resources.IAM.RoleARN = *got.Role.Arn
		return nil
	} else if !awsx.IsCode(err, "NoSuchEntity") {
		return fmt.Errorf("looking up role %s: %w", roleName, err)
	}

	logging.Info("creating IAM role", "role", roleName)
	out, err := f.clients.IAM.CreateRole(ctx, &iam.CreateRoleInput{
		RoleName:                 aws.String(roleName),
		AssumeRolePolicyDocument: aws.String(pipelineTrustPolicy),
		Description:              aws.String("Role for cross-region S3 file shuttle with Lambda and Glue"),
	})
	switch {
	case err == nil:
		doc.Resources.IAM.RoleARN = *out.Role.Arn
	case awsx.IsCode(err, "EntityAlreadyExists"):
		logging.Info("IAM role already exists", "role", roleName)
		got, gerr := f.clients.IAM.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(roleName)})
		if gerr != nil {
			return fmt.Errorf("looking up existing role %s: %w", roleName, gerr)
		}
		doc.Resources.IAM.RoleARN = *got.Role.Arn
		return nil
	default:
		return fmt.Errorf("creating role %s: %w", roleName, err)
	}

	for _, policy := range doc.Resources.IAM.PoliciesAttached {
		_, err := f.clients.IAM.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
			RoleName:  aws.String(roleName),
			PolicyArn: aws.String("arn:aws:iam::aws:policy/" + policy),
		})
		if err != nil {
			return fmt.Errorf("attaching policy %s: %w", policy, err)
		}
		logging.Info("attached policy", "policy", policy)
	}
	return nil
}

func (f *Foundation) provisionBuckets(ctx context.Context, doc *state.Document, accountID string) error {
	src := &doc.Resources.S3.SourceBucket
	src.Name = resolveBucketName(src.Name, accountID, src.Region)
	if err := createBucket(ctx, f.clients.Source.S3, src.Name, src.Region); err != nil {
		return err
	}

	tgt := &doc.Resources.S3.TargetBucket
	tgt.Name = resolveBucketName(tgt.Name, accountID, tgt.Region)
	return createBucket(ctx, f.clients.Target.S3, tgt.Name, tgt.Region)
}

// resolveBucketName substitutes the {account-id} and {region}
// placeholders a seeded document carries.
func resolveBucketName(name, accountID, region string) string {
	name = strings.ReplaceAll(name, "{account-id}", accountID)
	return strings.ReplaceAll(name, "{region}", region)
}

// createBucket creates a versioned, AES256-encrypted bucket, treating
// "already owned by you" as success. us-east-1 rejects an explicit
// LocationConstraint.
func createBucket(ctx context.Context, client awsx.S3API, name, region string) error {
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(name)}); err == nil {
		logging.Info("bucket already exists", "bucket", name)
		return nil
	} else if !awsx.IsCode(err, "NotFound", "404") {
		return fmt.Errorf("checking bucket %s: %w", name, err)
	}

	logging.Info("creating S3 bucket", "bucket", name, "region", region)

	in := &s3.CreateBucketInput{Bucket: aws.String(name)}
	if region != "us-east-1" {
		in.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(region),
		}
	}
	if _, err := client.CreateBucket(ctx, in); err != nil {
		if !awsx.IsCode(err, "BucketAlreadyOwnedByYou", "BucketAlreadyExists") {
			return fmt.Errorf("creating bucket %s: %w", name, err)
		}
		logging.Info("bucket already exists", "bucket", name)
	}

	if _, err := client.PutBucketVersioning(ctx, &s3.PutBucketVersioningInput{
		Bucket: aws.String(name),
		VersioningConfiguration: &s3types.VersioningConfiguration{
			Status: s3types.BucketVersioningStatusEnabled,
		},
	}); err != nil {
		return fmt.Errorf("enabling versioning on %s: %w", name, err)
	}

	if _, err := client.PutBucketEncryption(ctx, &s3.PutBucketEncryptionInput{
		Bucket: aws.String(name),
		ServerSideEncryptionConfiguration: &s3types.ServerSideEncryptionConfiguration{
			Rules: []s3types.ServerSideEncryptionRule{
				{
					ApplyServerSideEncryptionByDefault: &s3types.ServerSideEncryptionByDefault{
						SSEAlgorithm: s3types.ServerSideEncryptionAes256,
					},
				},
			},
		},
	}); err != nil {
		return fmt.Errorf("enabling encryption on %s: %w", name, err)
	}
	return nil
}
