package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Finding holds the schema definition for the Finding entity.
// A single annotated observation (severity, summary, evidence) about a
// clause, sourced from either the deterministic rule engine or the LLM.
type Finding struct {
	ent.Schema
}

// Fields of the Finding.
func (Finding) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("finding_id").
			Unique().
			Immutable(),
		field.String("document_id").
			Immutable(),
		field.String("run_id").
			Optional().
			Nillable().
			Comment("Null for findings not tied to a specific run (should not normally happen, kept optional to mirror spec's nullable FK)"),
		field.String("clause_id"),
		field.String("chunk_id").
			Optional(),
		field.String("clause_heading").
			Optional().
			Nillable(),
		field.Text("clause_body").
			Optional().
			Nillable(),
		field.Text("summary"),
		field.Text("explanation").
			Optional().
			Nillable(),
		field.Text("recommendation").
			Optional().
			Nillable(),
		field.Enum("severity").
			Values("low", "medium", "high").
			Default("medium"),
		field.Text("evidence").
			Optional(),
		field.JSON("evidence_span", map[string]interface{}{}).
			Optional().
			Comment("{start, end, pointer?} — pointer present only for spreadsheet chunks"),
		field.Enum("source").
			Values("rule", "llm", "unknown").
			Default("unknown"),
		field.String("rule_code").
			Optional().
			Nillable(),
		field.String("model").
			Optional().
			Nillable(),
		field.Float("confidence").
			Optional().
			Nillable(),
		field.String("prompt_rev").
			Optional().
			Nillable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Edges of the Finding.
func (Finding) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("document", Document.Type).
			Ref("findings").
			Field("document_id").
			Unique().
			Required().
			Immutable(),
		edge.From("run", ReviewRun.Type).
			Ref("findings").
			Field("run_id").
			Unique().
			Immutable(),
	}
}

// Indexes of the Finding.
func (Finding) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("run_id"),
		index.Fields("document_id", "created_at"),
		index.Fields("severity"),
		index.Fields("source"),
	}
}
