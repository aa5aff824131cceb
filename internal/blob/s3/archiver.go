package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/predictfi/settlebot/internal/domain"
)

// SettlementArchiveStore provides the read access the archiver needs. The
// Postgres settlement store satisfies it through ListBefore.
type SettlementArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.SettlementRecord, error)
}

// Archiver exports old settlement audit records to cold storage as JSONL.
// Deleting exported rows from Postgres is a separate, explicit step executed
// after the export has been verified.
type Archiver struct {
	writer      *Writer
	settlements SettlementArchiveStore
}

// NewArchiver creates an Archiver over the given client and store.
func NewArchiver(c *Client, settlements SettlementArchiveStore) *Archiver {
	return &Archiver{
		writer:      NewWriter(c),
		settlements: settlements,
	}
}

// ArchiveSettlements exports all settlement records before the cutoff to
// archive/settlements/YYYY-MM.jsonl and returns the exported count.
func (a *Archiver) ArchiveSettlements(ctx context.Context, before time.Time) (int64, error) {
	recs, err := a.settlements.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settlements query: %w", err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(recs)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settlements marshal: %w", err)
	}

	path := fmt.Sprintf("archive/settlements/%s.jsonl", before.Format("2006-01"))
	if err := a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize); err != nil {
		return 0, fmt.Errorf("s3blob: archive settlements upload: %w", err)
	}

	return int64(len(recs)), nil
}

// marshalJSONL serialises records as newline-delimited JSON, one compact
// line per record.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
