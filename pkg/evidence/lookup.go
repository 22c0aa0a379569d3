package evidence

import "context"

// DocumentMeta is what the document store knows about a stored document.
type DocumentMeta struct {
	ID             string `json:"id"`
	Filename       string `json:"filename,omitempty"`
	ContentType    string `json:"content_type,omitempty"`
	SizeBytes      int64  `json:"size,omitempty"`
	Status         string `json:"status,omitempty"`
	Classification string `json:"classification,omitempty"`
	Source         string `json:"source,omitempty"`
	StorageKey     string `json:"storage_key,omitempty"`
}

// DocumentLookup resolves document ids referenced by evidence items.
// Unknown ids are simply absent from the result.
type DocumentLookup interface {
	Lookup(ctx context.Context, ids []string) (map[string]DocumentMeta, error)
}

// NoopLookup knows no documents.
type NoopLookup struct{}

func (NoopLookup) Lookup(context.Context, []string) (map[string]DocumentMeta, error) {
	return map[string]DocumentMeta{}, nil
}

// StaticLookup serves a fixed document table.
type StaticLookup map[string]DocumentMeta

func (s StaticLookup) Lookup(_ context.Context, ids []string) (map[string]DocumentMeta, error) {
	out := make(map[string]DocumentMeta, len(ids))
	for _, id := range ids {
		if m, ok := s[id]; ok {
			out[id] = m
		}
	}
	return out, nil
}
