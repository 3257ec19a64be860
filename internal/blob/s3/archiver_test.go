package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwdevries/snipebot/internal/domain"
)

type fakeWriter struct {
	err error

	putPath   string
	putType   string
	putBody   []byte
	multiPath string
	multiSize int64
	multiBody []byte
}

func (f *fakeWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if f.err != nil {
		return f.err
	}
	f.putPath = path
	f.putType = contentType
	f.putBody, _ = io.ReadAll(data)
	return nil
}

func (f *fakeWriter) PutMultipart(_ context.Context, path string, data io.Reader, partSize int64) error {
	if f.err != nil {
		return f.err
	}
	f.multiPath = path
	f.multiSize = partSize
	f.multiBody, _ = io.ReadAll(data)
	return nil
}

type tradeList []domain.TradeResult

func (l tradeList) Trades() []domain.TradeResult { return l }

func TestArchiveTradesUploadsMonthlySnapshot(t *testing.T) {
	t.Parallel()

	trades := tradeList{
		{ID: "t1", Symbol: "NEWUSDT", NetPnl: 6.67},
		{ID: "t2", Symbol: "OTHERUSDT", NetPnl: -1.2},
	}
	w := &fakeWriter{}
	a := NewArchiver(w, trades)

	now := time.Date(2026, time.August, 23, 3, 0, 0, 0, time.UTC)
	count, err := a.ArchiveTrades(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	assert.Equal(t, "archive/trades/2026-08.jsonl", w.putPath)
	assert.Equal(t, "application/x-ndjson", w.putType)
	assert.Empty(t, w.multiPath)

	// One compact JSON document per line.
	var ids []string
	sc := bufio.NewScanner(bytes.NewReader(w.putBody))
	for sc.Scan() {
		var tr domain.TradeResult
		require.NoError(t, json.Unmarshal(sc.Bytes(), &tr))
		ids = append(ids, tr.ID)
	}
	require.NoError(t, sc.Err())
	assert.Equal(t, []string{"t1", "t2"}, ids)
}

func TestArchiveTradesEmptyHistorySkipsUpload(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	a := NewArchiver(w, tradeList{})

	count, err := a.ArchiveTrades(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, w.putPath)
	assert.Empty(t, w.multiPath)
}

func TestArchiveTradesLargePayloadUsesMultipart(t *testing.T) {
	t.Parallel()

	trades := tradeList{{ID: "big", Symbol: strings.Repeat("A", multipartThreshold)}}
	w := &fakeWriter{}
	a := NewArchiver(w, trades)

	count, err := a.ArchiveTrades(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Empty(t, w.putPath)
	assert.NotEmpty(t, w.multiPath)
	assert.Equal(t, minPartSize, w.multiSize)
	assert.GreaterOrEqual(t, int64(len(w.multiBody)), int64(multipartThreshold))
}

func TestArchiveTradesUploadFailure(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{err: errors.New("bucket gone")}
	a := NewArchiver(w, tradeList{{ID: "t1"}})

	count, err := a.ArchiveTrades(context.Background(), time.Now())
	require.Error(t, err)
	assert.Zero(t, count)
	assert.Contains(t, err.Error(), "archive trades upload")
}

func TestNormaliseEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		endpoint string
		useSSL   bool
		want     string
	}{
		{"bare host plain", "localhost:9000", false, "http://localhost:9000"},
		{"bare host ssl", "minio.internal", true, "https://minio.internal"},
		{"scheme preserved", "https://s3.amazonaws.com", false, "https://s3.amazonaws.com"},
		{"http preserved despite ssl flag", "http://localhost:9000", true, "http://localhost:9000"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, normaliseEndpoint(tt.endpoint, tt.useSSL))
		})
	}
}
