package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	graphql "github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"

	"github.com/venkatesh-gg/streamchain-audit-pipeline/internal/query"
	dErrors "github.com/venkatesh-gg/streamchain-audit-pipeline/pkg/domain-errors"
	audit "github.com/venkatesh-gg/streamchain-audit-pipeline/pkg/platform/audit"
)

const graphqlSchema = `
schema {
	query: Query
}

type Query {
	auditRecords(limit: Int): [AuditRecord!]!
	searchRecords(query: String!, limit: Int): [AuditRecord!]!
}

type AuditRecord {
	id: ID!
	eventType: String!
	userId: String!
	action: String!
	timestamp: String!
	archiveRef: String
	verified: Boolean
	chainTxHash: String
	chainBlockNumber: Float
}
`

// NewGraphQLHandler serves the read-only GraphQL query surface over q.
// Invalid limits and unavailable adapters surface as GraphQL errors.
func NewGraphQLHandler(q Querier, logger *slog.Logger) http.Handler {
	schema := graphql.MustParseSchema(graphqlSchema, &graphqlResolver{querier: q, logger: logger})
	return &relay.Handler{Schema: schema}
}

type graphqlResolver struct {
	querier Querier
	logger  *slog.Logger
}

type limitArgs struct {
	Limit *int32
}

func (a limitArgs) value() (int, error) {
	if a.Limit == nil {
		return 0, nil
	}
	if *a.Limit < 0 {
		return 0, dErrors.New(dErrors.CodeBadRequest, "limit must be a non-negative integer")
	}
	return int(*a.Limit), nil
}

func (r *graphqlResolver) AuditRecords(ctx context.Context, args limitArgs) ([]*recordResolver, error) {
	limit, err := args.value()
	if err != nil {
		return nil, err
	}
	records, err := r.querier.ListRecords(ctx, limit, query.Filters{})
	if err != nil {
		r.logger.ErrorContext(ctx, "graphql auditRecords failed", "error", err)
		return nil, err
	}
	out := make([]*recordResolver, 0, len(records))
	for _, rec := range records {
		out = append(out, &recordResolver{rec: rec})
	}
	return out, nil
}

func (r *graphqlResolver) SearchRecords(ctx context.Context, args struct {
	Query string
	Limit *int32
}) ([]*recordResolver, error) {
	limit, err := limitArgs{Limit: args.Limit}.value()
	if err != nil {
		return nil, err
	}
	res, err := r.querier.SearchRecords(ctx, args.Query, limit)
	if err != nil {
		r.logger.ErrorContext(ctx, "graphql searchRecords failed", "error", err)
		return nil, err
	}
	out := make([]*recordResolver, 0, len(res.Hits))
	for _, doc := range res.Hits {
		out = append(out, &recordResolver{rec: audit.Record{
			ID:         doc.ID,
			EventType:  doc.EventType,
			UserID:     doc.UserID,
			Action:     doc.Action,
			Timestamp:  doc.Timestamp,
			ArchiveRef: doc.ArchiveRef,
		}})
	}
	return out, nil
}

// recordResolver exposes one record. Search hits carry no chain fields.
type recordResolver struct {
	rec audit.Record
}

func (r *recordResolver) ID() graphql.ID {
	return graphql.ID(strconv.FormatInt(r.rec.ID, 10))
}

func (r *recordResolver) EventType() string { return r.rec.EventType }

func (r *recordResolver) UserID() string { return r.rec.UserID }

func (r *recordResolver) Action() string { return r.rec.Action }

func (r *recordResolver) Timestamp() string {
	return r.rec.Timestamp.UTC().Format(time.RFC3339Nano)
}

func (r *recordResolver) ArchiveRef() *string { return r.rec.ArchiveRef }

func (r *recordResolver) Verified() *bool { return r.rec.Verified }

func (r *recordResolver) ChainTxHash() *string { return r.rec.ChainTxHash }

// ChainBlockNumber is a Float since block heights exceed GraphQL's 32-bit Int.
func (r *recordResolver) ChainBlockNumber() *float64 {
	if r.rec.ChainBlockNumber == nil {
		return nil
	}
	n := float64(*r.rec.ChainBlockNumber)
	return &n
}
