package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// ReviewRun holds the schema definition for the ReviewRun entity.
// ReviewRun is the scheduling unit driven through the pipeline executor
// (pkg/queue): queued -> running -> {succeeded|partial|failed}.
type ReviewRun struct {
	ent.Schema
}

// Fields of the ReviewRun.
func (ReviewRun) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("run_id").
			Unique().
			Immutable(),
		field.String("document_id").
			Immutable(),
		field.String("idempotency_key").
			Optional().
			Nillable(),
		field.String("request_fingerprint").
			Optional().
			Nillable(),
		field.Enum("status").
			Values("queued", "running", "succeeded", "failed", "partial").
			Default("queued"),
		field.Enum("current_stage").
			Values("preprocess", "rules", "llm", "persist").
			Optional().
			Nillable(),
		field.Text("error").
			Optional().
			Nillable(),
		field.String("llm_model").
			Optional().
			Nillable(),
		field.String("prompt_rev").
			Optional().
			Nillable(),
		field.String("cache_key").
			Optional().
			Nillable(),
		field.Int("cache_hits").
			Default(0).
			NonNegative(),
		field.Int("cache_misses").
			Default(0).
			NonNegative(),
		field.JSON("token_usage", map[string]interface{}{}).
			Optional(),
		field.JSON("stage_timings", map[string]int{}).
			Optional().
			Comment("stage name -> elapsed milliseconds"),
		field.Time("started_at").
			Optional().
			Nillable(),
		field.Time("completed_at").
			Optional().
			Nillable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Edges of the ReviewRun.
func (ReviewRun) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("document", Document.Type).
			Ref("review_runs").
			Field("document_id").
			Unique().
			Required().
			Immutable(),
		edge.To("chunks", ReviewChunk.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("findings", Finding.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
	}
}

// Indexes of the ReviewRun.
func (ReviewRun) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("status"),
		index.Fields("document_id", "idempotency_key"),
		index.Fields("request_fingerprint", "created_at"),
		index.Fields("status", "created_at"),
	}
}
