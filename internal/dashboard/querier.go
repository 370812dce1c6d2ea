// Package dashboard serves a read-only analytics view over the
// shuttled data. Each request re-derives resource names from the
// state document and issues one aggregation query; nothing is cached.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	athenatypes "github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/aws/aws-sdk-go-v2/service/glue"

	"github.com/shuttlr-io/shuttlr/internal/poll"
	"github.com/shuttlr-io/shuttlr/internal/state"
)

type catalogAPI interface {
	GetTables(ctx context.Context, in *glue.GetTablesInput, optFns ...func(*glue.Options)) (*glue.GetTablesOutput, error)
}

type queryAPI interface {
	StartQueryExecution(ctx context.Context, in *athena.StartQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error)
	GetQueryExecution(ctx context.Context, in *athena.GetQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error)
	GetQueryResults(ctx context.Context, in *athena.GetQueryResultsInput, optFns ...func(*athena.Options)) (*athena.GetQueryResultsOutput, error)
}

// SoftError is a business-level failure rendered as a structured
// error payload instead of a server fault.
type SoftError string

func (e SoftError) Error() string { return string(e) }

// ErrNoTables reports an empty catalog; the pipeline has not shuttled
// any data yet.
const ErrNoTables = SoftError("No tables found in Glue catalog")

// ErrNoData reports a catalog table with zero rows.
const ErrNoData = SoftError("No customer data found")

// CountryCount is one row of the aggregation.
type CountryCount struct {
	Country string `json:"country"`
	Count   int    `json:"count"`
}

// Report is the country distribution payload.
type Report struct {
	Countries []CountryCount `json:"countries"`
	Total     int            `json:"total"`
	QueryTime float64        `json:"query_time"`
}

// Querier issues the country aggregation against the catalog's first
// table.
type Querier struct {
	catalog catalogAPI
	query   queryAPI

	interval time.Duration
	timeout  time.Duration
}

func NewQuerier(catalog catalogAPI, query queryAPI) *Querier {
	return &Querier{
		catalog:  catalog,
		query:    query,
		interval: 2 * time.Second,
		timeout:  60 * time.Second,
	}
}

// CountryBreakdown runs a group-by over the country column,
// descending by count. Business-level failures come back as
// SoftError; anything else is a provider fault.
func (q *Querier) CountryBreakdown(ctx context.Context, doc *state.Document) (*Report, error) {
	started := time.Now()

	db := doc.Resources.Glue.DatabaseName
	tables, err := q.catalog.GetTables(ctx, &glue.GetTablesInput{DatabaseName: aws.String(db)})
	if err != nil {
		return nil, fmt.Errorf("listing tables in %s: %w", db, err)
	}
	if len(tables.TableList) == 0 {
		return nil, ErrNoTables
	}
	table := aws.ToString(tables.TableList[0].Name)

	queryString := fmt.Sprintf(`SELECT country, COUNT(*) as customer_count
FROM "%s"."%s"
WHERE country IS NOT NULL AND country != ''
GROUP BY country
ORDER BY customer_count DESC`, db, table)

	exec, err := q.query.StartQueryExecution(ctx, &athena.StartQueryExecutionInput{
		QueryString: aws.String(queryString),
		WorkGroup:   aws.String(doc.Resources.Athena.Workgroup),
	})
	if err != nil {
		return nil, fmt.Errorf("starting query: %w", err)
	}
	executionID := aws.ToString(exec.QueryExecutionId)

	if err := q.awaitQuery(ctx, executionID); err != nil {
		return nil, err
	}

	results, err := q.query.GetQueryResults(ctx, &athena.GetQueryResultsInput{
		QueryExecutionId: aws.String(executionID),
	})
	if err != nil {
		return nil, fmt.Errorf("fetching query results: %w", err)
	}

	rows := results.ResultSet.Rows
	if len(rows) <= 1 {
		return nil, ErrNoData
	}

	report := &Report{}
	for _, row := range rows[1:] {
		if len(row.Data) < 2 {
			continue
		}
		country := aws.ToString(row.Data[0].VarCharValue)
		count, _ := strconv.Atoi(aws.ToString(row.Data[1].VarCharValue))
		report.Countries = append(report.Countries, CountryCount{Country: country, Count: count})
		report.Total += count
	}
	report.QueryTime = time.Since(started).Seconds()
	return report, nil
}

func (q *Querier) awaitQuery(ctx context.Context, executionID string) error {
	err := poll.Until(ctx, q.interval, q.timeout, func(ctx context.Context) (bool, error) {
		out, err := q.query.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{
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
			return false, SoftError(fmt.Sprintf("Query failed: %s", reason))
		}
	})
	if errors.Is(err, poll.ErrTimeout) {
		return SoftError(fmt.Sprintf("Query did not complete within %s", q.timeout))
	}
	return err
}
