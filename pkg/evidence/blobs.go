package evidence

import (
	"context"
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/reportdesk/pkg/artifacts"
)

// BlobLookup treats document ids as artifact addresses. Ids that are not
// addresses, or whose blob is missing, are absent from the result.
type BlobLookup struct {
	Blobs artifacts.Store
}

func (b BlobLookup) Lookup(ctx context.Context, ids []string) (map[string]DocumentMeta, error) {
	out := make(map[string]DocumentMeta, len(ids))
	for _, id := range ids {
		if _, err := artifacts.Digest(id); err != nil {
			continue
		}
		ok, err := b.Blobs.Exists(ctx, id)
		if err != nil {
			if errors.Is(err, artifacts.ErrInvalidAddress) {
				continue
			}
			return nil, fmt.Errorf("document lookup %s: %w", id, err)
		}
		if ok {
			out[id] = DocumentMeta{ID: id, Status: "STORED", StorageKey: id}
		}
	}
	return out, nil
}
