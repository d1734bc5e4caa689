package bigquery

import (
	"time"

	"cloud.google.com/go/bigquery"
)

// ComplianceRow is the analytics shape of a compliance log entry.
type ComplianceRow struct {
	LogID       string                 `bigquery:"log_id"`
	EventID     string                 `bigquery:"event_id"`
	ActorUserID bigquery.NullString    `bigquery:"actor_user_id"`
	ActorRole   string                 `bigquery:"actor_role"`
	Action      string                 `bigquery:"action"`
	EntityType  string                 `bigquery:"entity_type"`
	EntityID    string                 `bigquery:"entity_id"`
	BeforeState bigquery.NullJSON      `bigquery:"before_state"`
	AfterState  bigquery.NullJSON      `bigquery:"after_state"`
	Reason      bigquery.NullString    `bigquery:"reason"`
	RequestID   bigquery.NullString    `bigquery:"request_id"`
	CreatedAt   time.Time              `bigquery:"created_at"`
	IngestedAt  bigquery.NullTimestamp `bigquery:"ingested_at"`
}

var complianceSchema = mustInferSchema()

func mustInferSchema() bigquery.Schema {
	schema, err := bigquery.InferSchema(ComplianceRow{})
	if err != nil {
		panic(err)
	}
	return schema
}

func (r *ComplianceRow) saver() *bigquery.StructSaver {
	return &bigquery.StructSaver{
		Schema:   complianceSchema,
		InsertID: r.LogID,
		Struct:   r,
	}
}
