// Package state persists the pipeline's only durable record: a single
// JSON document holding regions, resource identifiers, and per-group
// deployment status.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Status is the lifecycle state of one resource group.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusDeleted   Status = "deleted"
)

// Group keys used in DeploymentStatus. Each provisioner owns one or more.
const (
	KeyIAMRole         = "iam_role"
	KeyS3Buckets       = "s3_buckets"
	KeySNSTopic        = "sns_topic"
	KeySQSQueue        = "sqs_queue"
	KeyLambdaFunction  = "lambda_function"
	KeyGlueCrawler     = "glue_crawler"
	KeyS3Notifications = "s3_notifications"
	KeyAthenaSetup     = "athena_setup"
)

// GroupKeys lists every deployment status key in provisioning order.
var GroupKeys = []string{
	KeyIAMRole,
	KeyS3Buckets,
	KeySNSTopic,
	KeySQSQueue,
	KeyLambdaFunction,
	KeyGlueCrawler,
	KeyS3Notifications,
	KeyAthenaSetup,
}

// Regions names the two AWS regions the pipeline spans.
type Regions struct {
	Source string `json:"source_region"`
	Target string `json:"target_region"`
}

// IAMResources holds the identity group's identifiers.
type IAMResources struct {
	RoleName         string   `json:"role_name"`
	RoleARN          string   `json:"role_arn,omitempty"`
	PoliciesAttached []string `json:"policies_attached"`
}

// Bucket is one S3 bucket plus the region it lives in.
type Bucket struct {
	Name   string `json:"name"`
	Region string `json:"region"`
}

// S3Resources holds the source and target buckets.
type S3Resources struct {
	SourceBucket Bucket `json:"source_bucket"`
	TargetBucket Bucket `json:"target_bucket"`
}

// SNSResources holds the notification topic's identifiers.
type SNSResources struct {
	TopicName string `json:"topic_name"`
	TopicARN  string `json:"topic_arn,omitempty"`
}

// SQSResources holds the queue's identifiers.
type SQSResources struct {
	QueueName       string `json:"queue_name"`
	QueueURL        string `json:"queue_url,omitempty"`
	QueueARN        string `json:"queue_arn,omitempty"`
	SubscribedToSNS bool   `json:"subscribed_to_sns,omitempty"`
}

// LambdaResources holds the copy function's identifiers.
type LambdaResources struct {
	FunctionName string `json:"function_name"`
	FunctionARN  string `json:"function_arn,omitempty"`
	MappingUUID  string `json:"mapping_uuid,omitempty"`
}

// GlueResources holds the data catalog group's identifiers.
type GlueResources struct {
	DatabaseName   string `json:"database_name"`
	ClassifierName string `json:"classifier_name,omitempty"`
	CrawlerName    string `json:"crawler_name"`
	CrawlerARN     string `json:"crawler_arn,omitempty"`
	TargetPath     string `json:"target_path,omitempty"`
}

// AthenaResources holds the query service group's identifiers.
type AthenaResources struct {
	Workgroup           string `json:"workgroup"`
	Database            string `json:"database"`
	ResultsBucket       string `json:"query_results_bucket,omitempty"`
	QueryResultLocation string `json:"query_result_location,omitempty"`
}

// Resources is the closed set of resource-group records.
type Resources struct {
	IAM    IAMResources    `json:"iam"`
	S3     S3Resources     `json:"s3"`
	SNS    SNSResources    `json:"sns"`
	SQS    SQSResources    `json:"sqs"`
	Lambda LambdaResources `json:"lambda"`
	Glue   GlueResources   `json:"glue"`
	Athena AthenaResources `json:"athena"`
}

// Document is the persisted state of the whole pipeline. It is read
// wholesale, mutated in memory, and written back wholesale; the live
// provider remains the source of truth between writes.
type Document struct {
	Regions           Regions           `json:"regions"`
	AccountID         string            `json:"account_id,omitempty"`
	Resources         Resources         `json:"resources"`
	DeploymentStatus  map[string]Status `json:"deployment_status"`
	LastRun           string            `json:"last_run,omitempty"`
	DeletionTimestamp string            `json:"deletion_timestamp,omitempty"`
	Phase             string            `json:"status,omitempty"`
}

// StatusOf returns the recorded status for a group key, defaulting to pending.
func (d *Document) StatusOf(key string) Status {
	if d.DeploymentStatus == nil {
		return StatusPending
	}
	if s, ok := d.DeploymentStatus[key]; ok {
		return s
	}
	return StatusPending
}

// SetStatus records a group's status, allocating the map if needed.
func (d *Document) SetStatus(key string, s Status) {
	if d.DeploymentStatus == nil {
		d.DeploymentStatus = make(map[string]Status)
	}
	d.DeploymentStatus[key] = s
}

// Completed reports whether every given key is completed.
func (d *Document) Completed(keys ...string) bool {
	for _, k := range keys {
		if d.StatusOf(k) != StatusCompleted {
			return false
		}
	}
	return true
}

// TouchLastRun stamps the document with the current time.
func (d *Document) TouchLastRun() {
	d.LastRun = time.Now().Format(time.RFC3339)
}

// Seed returns a fresh document with default resource names and all
// statuses pending. Bucket names keep the {account-id} placeholder
// until the foundation provisioner resolves it.
func Seed(source, target string) *Document {
	doc := &Document{
		Regions: Regions{Source: source, Target: target},
		Resources: Resources{
			IAM: IAMResources{
				RoleName: "s3-shuttle-pipeline-role",
				PoliciesAttached: []string{
					"AmazonS3FullAccess",
					"AWSLambdaBasicExecutionRole",
					"AWSGlueServiceRole",
					"AmazonSNSFullAccess",
					"AmazonSQSFullAccess",
				},
			},
			S3: S3Resources{
				SourceBucket: Bucket{Name: "s3-shuttle-source-{account-id}-" + source, Region: source},
				TargetBucket: Bucket{Name: "s3-shuttle-target-{account-id}-" + target, Region: target},
			},
			SNS:    SNSResources{TopicName: "s3-shuttle-events"},
			SQS:    SQSResources{QueueName: "s3-shuttle-copy-queue"},
			Lambda: LambdaResources{FunctionName: "s3-shuttle-copy"},
			Glue: GlueResources{
				DatabaseName: "s3_shuttle_catalog",
				CrawlerName:  "s3-shuttle-crawler",
			},
			Athena: AthenaResources{
				Workgroup: "s3-shuttle-workgroup",
				Database:  "s3_shuttle_catalog",
			},
		},
		DeploymentStatus: make(map[string]Status),
	}
	for _, k := range GroupKeys {
		doc.DeploymentStatus[k] = StatusPending
	}
	return doc
}

// Store reads and writes the state document at a fixed path.
type Store struct {
	path string
}

// NewStore returns a store for the document at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the document location.
func (s *Store) Path() string {
	return s.path
}

// Exists reports whether a document has been written.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Load reads and decodes the document.
func (s *Store) Load() (*Document, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("state file %s not found: run 'shuttlr init' first", s.path)
		}
		return nil, fmt.Errorf("failed to read state file %s: %w", s.path, err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("invalid JSON in state file %s: %w", s.path, err)
	}
	return &doc, nil
}

// Save writes the document atomically: encode to a temp file in the
// same directory, then rename over the target. A crash mid-write
// leaves the previous document intact.
func (s *Store) Save(doc *Document) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".run_data-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace state file %s: %w", s.path, err)
	}
	return nil
}
