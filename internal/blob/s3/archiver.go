package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jwdevries/snipebot/internal/domain"
)

// multipartThreshold is the payload size above which uploads switch from a
// single PutObject to the multipart manager.
const multipartThreshold = 8 * 1024 * 1024

// TradeSource provides the completed-trade history to archive. The position
// ledger implements it.
type TradeSource interface {
	Trades() []domain.TradeResult
}

// BlobWriter is the narrow upload surface the archiver needs.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// Archiver serializes the completed-trade history to JSONL and uploads it as
// a monthly snapshot. Re-running within the same month overwrites the month's
// object with the fuller history, so each run converges rather than appends.
type Archiver struct {
	writer BlobWriter
	trades TradeSource
}

// NewArchiver creates an Archiver reading from trades and uploading via writer.
func NewArchiver(writer BlobWriter, trades TradeSource) *Archiver {
	return &Archiver{
		writer: writer,
		trades: trades,
	}
}

// ArchiveTrades uploads the current trade history to
// archive/trades/YYYY-MM.jsonl, partitioned by now's year-month. It returns
// the number of records uploaded; an empty history uploads nothing.
func (a *Archiver) ArchiveTrades(ctx context.Context, now time.Time) (int64, error) {
	trades := a.trades.Trades()
	if len(trades) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(trades)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path := archivePath("trades", now)
	if int64(len(buf)) >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	return int64(len(trades)), nil
}

// archivePath builds the S3 key for an archive file, partitioned by
// year-month.
//
//	archive/trades/2025-01.jsonl
func archivePath(kind string, now time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, now.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
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
