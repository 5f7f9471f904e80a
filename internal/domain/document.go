package domain

import (
	"context"
	"encoding/json"
	"time"
)

// DocumentKey uniquely identifies a Document.
type DocumentKey struct {
	ChannelID string `json:"channelId"`
	Kind      Kind   `json:"kind"`
}

func (k DocumentKey) String() string {
	return k.ChannelID + "/" + string(k.Kind)
}

// Document is the persisted projection of one or more events. Its embedded
// children have no identity outside of it: they are written, replaced and
// deleted together with the document.
type Document struct {
	Key       DocumentKey        `json:"key"`
	Fields    map[string]string  `json:"scalarFields"`
	Embedded  []EmbeddedDocument `json:"embedded"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

type EmbeddedDocument struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data"`
}

// DocumentRepository stores documents under replace-all semantics for the
// embedded collection. Implementations never retry internally.
type DocumentRepository interface {
	Upsert(ctx context.Context, doc Document) error
	FindByKey(ctx context.Context, key DocumentKey) (Document, error)
	DeleteByKey(ctx context.Context, key DocumentKey) error
}
