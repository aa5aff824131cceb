package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/predictfi/settlebot/internal/domain"
)

// EvidenceStore archives resolution evidence records and resolves the URIs
// it mints back to object keys. The URI written on-chain as the settlement's
// evidence reference is an s3:// URI pointing into the archive bucket.
type EvidenceStore struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	bucket string
}

// NewEvidenceStore creates an EvidenceStore over the given client.
func NewEvidenceStore(c *Client) *EvidenceStore {
	return &EvidenceStore{
		writer: NewWriter(c),
		reader: NewReader(c),
		bucket: c.Bucket(),
	}
}

// Archive uploads one evidence record as pretty-printed JSON under
// evidence/{marketID}/{uuid}.json and returns its s3:// URI.
func (es *EvidenceStore) Archive(ctx context.Context, marketID uint64, record any) (string, error) {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal evidence for market %d: %w", marketID, err)
	}

	key := fmt.Sprintf("evidence/%d/%s.json", marketID, uuid.New().String())
	if err := es.writer.Put(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
		return "", err
	}

	return fmt.Sprintf("s3://%s/%s", es.bucket, key), nil
}

// Fetch reads an archived evidence record by the URI minted by Archive.
// URIs pointing at a different bucket are rejected.
func (es *EvidenceStore) Fetch(ctx context.Context, uri string) ([]byte, error) {
	key, err := es.keyForURI(uri)
	if err != nil {
		return nil, err
	}

	body, err := es.reader.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("s3blob: read evidence %s: %w", uri, err)
	}
	return data, nil
}

func (es *EvidenceStore) keyForURI(uri string) (string, error) {
	prefix := "s3://" + es.bucket + "/"
	if !strings.HasPrefix(uri, prefix) {
		return "", fmt.Errorf("s3blob: evidence URI %q outside bucket %s: %w", uri, es.bucket, domain.ErrNotFound)
	}
	key := strings.TrimPrefix(uri, prefix)
	if key == "" || strings.Contains(key, "..") {
		return "", fmt.Errorf("s3blob: invalid evidence URI %q: %w", uri, domain.ErrNotFound)
	}
	return key, nil
}
