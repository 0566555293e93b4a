package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// ReviewChunk holds the schema definition for the ReviewChunk entity.
// One row per deterministic chunk produced by pkg/chunker for a given run;
// rows are deleted and recreated wholesale on reprocessing (pkg/store).
type ReviewChunk struct {
	ent.Schema
}

// Fields of the ReviewChunk.
func (ReviewChunk) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("chunk_row_id").
			Unique().
			Immutable(),
		field.String("run_id").
			Immutable(),
		field.String("document_id").
			Immutable(),
		field.String("chunk_id").
			Comment("Stable chk_<sha256[:24]> identifier, deterministic across reruns"),
		field.String("schema_version"),
		field.Int("ordinal").
			Positive(),
		field.String("heading").
			Optional(),
		field.Text("body"),
		field.Int("start_offset").
			Optional().
			Nillable(),
		field.Int("end_offset").
			Optional().
			Nillable(),
		field.JSON("metadata", map[string]interface{}{}).
			Optional().
			Comment("May carry evidence_pointer for spreadsheet chunks"),
	}
}

// Edges of the ReviewChunk.
func (ReviewChunk) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("run", ReviewRun.Type).
			Ref("chunks").
			Field("run_id").
			Unique().
			Required().
			Immutable(),
		edge.From("document", Document.Type).
			Ref("review_chunks").
			Field("document_id").
			Unique().
			Required().
			Immutable(),
	}
}

// Indexes of the ReviewChunk.
func (ReviewChunk) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("run_id", "chunk_id").
			Unique(),
		index.Fields("run_id", "ordinal"),
	}
}
