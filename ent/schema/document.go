package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Document holds the schema definition for the Document entity.
// Documents are produced by out-of-scope ingestion readers (pkg/ingestion);
// this schema only persists the shape they hand back.
type Document struct {
	ent.Schema
}

// Fields of the Document.
func (Document) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("document_id").
			Unique().
			Immutable(),
		field.String("title").
			NotEmpty(),
		field.Text("text").
			Comment("Normalized UTF-8 document body"),
		field.Enum("source_type").
			Values("text", "pdf", "spreadsheet").
			Default("text"),
		field.JSON("ingestion_metadata", map[string]interface{}{}).
			Optional().
			Comment("Structured mapping produced by the ingestion reader; spreadsheet shape documented in spec §3"),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Edges of the Document.
func (Document) Edges() []ent.Edge {
	return []ent.Edge{
		edge.To("review_runs", ReviewRun.Type),
		edge.To("review_chunks", ReviewChunk.Type),
		edge.To("findings", Finding.Type),
	}
}

// Indexes of the Document.
func (Document) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("source_type"),
		index.Fields("created_at"),
	}
}
