package provision

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	gluetypes "github.com/aws/aws-sdk-go-v2/service/glue/types"

	"github.com/shuttlr-io/shuttlr/internal/awsx"
	"github.com/shuttlr-io/shuttlr/internal/logging"
	"github.com/shuttlr-io/shuttlr/internal/state"
)

const (
	csvClassifierName = "s3-shuttle-csv-classifier"
	tablePrefix       = "s3_shuttle_"
)

// crawlerConfiguration tunes crawler output behavior; passed verbatim
// to CreateCrawler.
const crawlerConfiguration = `{"Version":1.0,"CrawlerOutput":{"Partitions":{"AddOrUpdateBehavior":"InheritFromTable"},"Tables":{"AddOrUpdateBehavior":"MergeNewColumns"}}}`

// Catalog provisions the Glue database, CSV classifier and crawler
// that catalog the target bucket's contents.
type Catalog struct {
	clients *awsx.ClientSet
}

func NewCatalog(clients *awsx.ClientSet) *Catalog {
	return &Catalog{clients: clients}
}

func (c *Catalog) Name() string { return "catalog" }

func (c *Catalog) StatusKeys() []string {
	return []string{state.KeyGlueCrawler}
}

func (c *Catalog) Provision(ctx context.Context, doc *state.Document) error {
	if err := c.provisionDatabase(ctx, doc); err != nil {
		doc.SetStatus(state.KeyGlueCrawler, state.StatusFailed)
		return err
	}
	if err := c.provisionClassifier(ctx, doc); err != nil {
		doc.SetStatus(state.KeyGlueCrawler, state.StatusFailed)
		return err
	}
	if err := c.provisionCrawler(ctx, doc); err != nil {
		doc.SetStatus(state.KeyGlueCrawler, state.StatusFailed)
		return err
	}
	doc.SetStatus(state.KeyGlueCrawler, state.StatusCompleted)
	return nil
}

func (c *Catalog) provisionDatabase(ctx context.Context, doc *state.Document) error {
	name := doc.Resources.Glue.DatabaseName
	logging.Info("creating Glue database", "database", name)

	_, err := c.clients.Target.Glue.GetDatabase(ctx, &glue.GetDatabaseInput{Name: aws.String(name)})
	if err == nil {
		logging.Info("Glue database already exists", "database", name)
		return nil
	}
	if !awsx.IsCode(err, "EntityNotFoundException") {
		return fmt.Errorf("looking up database %s: %w", name, err)
	}

	_, err = c.clients.Target.Glue.CreateDatabase(ctx, &glue.CreateDatabaseInput{
		DatabaseInput: &gluetypes.DatabaseInput{
			Name:        aws.String(name),
			Description: aws.String("Data catalog for cross-region S3 shuttle output"),
		},
	})
	if err != nil {
		return fmt.Errorf("creating database %s: %w", name, err)
	}
	return nil
}

func (c *Catalog) provisionClassifier(ctx context.Context, doc *state.Document) error {
	logging.Info("creating CSV classifier", "classifier", csvClassifierName)

	_, err := c.clients.Target.Glue.GetClassifier(ctx, &glue.GetClassifierInput{
		Name: aws.String(csvClassifierName),
	})
	if err == nil {
		logging.Info("CSV classifier already exists", "classifier", csvClassifierName)
		doc.Resources.Glue.ClassifierName = csvClassifierName
		return nil
	}
	if !awsx.IsCode(err, "EntityNotFoundException") {
		return fmt.Errorf("looking up classifier %s: %w", csvClassifierName, err)
	}

	_, err = c.clients.Target.Glue.CreateClassifier(ctx, &glue.CreateClassifierInput{
		CsvClassifier: &gluetypes.CreateCsvClassifierRequest{
			Name:                 aws.String(csvClassifierName),
			Delimiter:            aws.String(","),
			QuoteSymbol:          aws.String(`"`),
			ContainsHeader:       gluetypes.CsvHeaderOptionPresent,
			Header:               []string{},
			DisableValueTrimming: aws.Bool(false),
			AllowSingleColumn:    aws.Bool(false),
		},
	})
	if err != nil {
		return fmt.Errorf("creating classifier %s: %w", csvClassifierName, err)
	}
	doc.Resources.Glue.ClassifierName = csvClassifierName
	return nil
}

func (c *Catalog) provisionCrawler(ctx context.Context, doc *state.Document) error {
	name := doc.Resources.Glue.CrawlerName
	targetPath := fmt.Sprintf("s3://%s/", doc.Resources.S3.TargetBucket.Name)
	crawlerARN := fmt.Sprintf("arn:aws:glue:%s:%s:crawler/%s", doc.Regions.Target, doc.AccountID, name)
	logging.Info("creating Glue crawler", "crawler", name, "path", targetPath)

	_, err := c.clients.Target.Glue.GetCrawler(ctx, &glue.GetCrawlerInput{Name: aws.String(name)})
	if err == nil {
		logging.Info("Glue crawler already exists", "crawler", name)
		doc.Resources.Glue.CrawlerARN = crawlerARN
		doc.Resources.Glue.TargetPath = targetPath
		return nil
	}
	if !awsx.IsCode(err, "EntityNotFoundException") {
		return fmt.Errorf("looking up crawler %s: %w", name, err)
	}

	_, err = c.clients.Target.Glue.CreateCrawler(ctx, &glue.CreateCrawlerInput{
		Name:         aws.String(name),
		Role:         aws.String(doc.Resources.IAM.RoleARN),
		DatabaseName: aws.String(doc.Resources.Glue.DatabaseName),
		Description:  aws.String("Crawler for cross-region S3 shuttle output"),
		Targets: &gluetypes.CrawlerTargets{
			S3Targets: []gluetypes.S3Target{
				{Path: aws.String(targetPath), Exclusions: []string{}},
			},
		},
		Classifiers: []string{doc.Resources.Glue.ClassifierName},
		TablePrefix: aws.String(tablePrefix),
		SchemaChangePolicy: &gluetypes.SchemaChangePolicy{
			UpdateBehavior: gluetypes.UpdateBehaviorUpdateInDatabase,
			DeleteBehavior: gluetypes.DeleteBehaviorLog,
		},
		RecrawlPolicy: &gluetypes.RecrawlPolicy{
			RecrawlBehavior: gluetypes.RecrawlBehaviorCrawlEverything,
		},
		LineageConfiguration: &gluetypes.LineageConfiguration{
			CrawlerLineageSettings: gluetypes.CrawlerLineageSettingsDisable,
		},
		Configuration: aws.String(crawlerConfiguration),
	})
	if err != nil {
		return fmt.Errorf("creating crawler %s: %w", name, err)
	}

	doc.Resources.Glue.CrawlerARN = crawlerARN
	doc.Resources.Glue.TargetPath = targetPath
	return nil
}
