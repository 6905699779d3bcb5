package crawler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var archiveTime = time.Date(2024, time.March, 5, 10, 30, 0, 0, time.UTC)

func newTestArchiver(t *testing.T, store BlobStore, logger *zap.Logger, opts ...ArchiverOption) *Archiver {
	t.Helper()
	cfg := testConfig(t, "https://mohfw.gov.in/")
	opts = append([]ArchiverOption{WithClock(fixedClock{now: archiveTime})}, opts...)
	return NewArchiver(cfg, store, logger, opts...)
}

func TestArchiverSkipsSmallPDFs(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	a := newTestArchiver(t, store, nil)

	out, err := a.Archive(context.Background(), "https://mohfw.gov.in/tiny.pdf", bytes.NewReader(make([]byte, 20000)), 20000)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTooSmall, out.Kind)
	assert.Empty(t, store.objects)

	out, err = a.Archive(context.Background(), "https://mohfw.gov.in/unknown.pdf", bytes.NewReader(make([]byte, 90000)), -1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTooSmall, out.Kind, "unknown length is treated as too small")
}

func TestArchiverWritesPDFAndSidecar(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	a := newTestArchiver(t, store, nil)
	body := bytes.Repeat([]byte("p"), 60000)

	out, err := a.Archive(context.Background(), "https://mohfw.gov.in/docs/Annual%20Report.pdf", bytes.NewReader(body), int64(len(body)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeArchived, out.Kind)
	assert.Equal(t, int64(len(body)), out.Bytes)
	assert.Equal(t, "mem://Annual Report.pdf", out.Location)

	data, ok := store.object("Annual Report.pdf")
	require.True(t, ok)
	assert.Equal(t, body, data)
	assert.LessOrEqual(t, store.maxRead, 8192, "body is streamed in fixed chunks")

	raw, ok := store.object("Annual Report.pdf.json")
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(string(raw), "{\n  \""), "sidecar is indented with two spaces")

	var record DocumentRecord
	require.NoError(t, json.Unmarshal(raw, &record))
	assert.Equal(t, DocumentRecord{
		SourceAuthority: "MoHFW",
		Tier:            "Tier1",
		DownloadURL:     "https://mohfw.gov.in/docs/Annual%20Report.pdf",
		FileName:        "Annual Report.pdf",
		CrawlDate:       "2024-03-05",
		FileSizeKB:      58.59,
	}, record)
	assert.Equal(t, record, out.Record)
}

func TestArchiverRemovesPartialFilesOnWriteFailure(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.failPaths["report.pdf.json"] = errors.New("disk full")
	a := newTestArchiver(t, store, nil)

	_, err := a.Archive(context.Background(), "https://mohfw.gov.in/report.pdf", bytes.NewReader(make([]byte, 60000)), 60000)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrArchiveWrite)

	_, ok := store.object("report.pdf")
	assert.False(t, ok, "pdf without sidecar must be removed")
	assert.Contains(t, store.removed, "report.pdf")
}

func TestArchiverFlagsNameCollisions(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.WarnLevel)
	store := newMemStore()
	a := newTestArchiver(t, store, zap.New(core))

	for _, u := range []string{
		"https://mohfw.gov.in/2023/report.pdf",
		"https://mohfw.gov.in/2023/report.pdf",
		"https://mohfw.gov.in/2024/report.pdf",
	} {
		_, err := a.Archive(context.Background(), u, bytes.NewReader(make([]byte, 60000)), 60000)
		require.NoError(t, err)
	}

	entries := logs.FilterMessage("File name collision, overwriting").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "https://mohfw.gov.in/2023/report.pdf", entries[0].ContextMap()["previous_url"])

	raw, ok := store.object("report.pdf.json")
	require.True(t, ok)
	assert.Contains(t, string(raw), "2024/report.pdf")
}

type recordingCatalog struct {
	records []DocumentRecord
}

func (c *recordingCatalog) RecordDocument(_ context.Context, r DocumentRecord, _ string) error {
	c.records = append(c.records, r)
	return nil
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, any) (string, error) {
	return "", errors.New("topic unavailable")
}

func TestArchiverIndexingFailuresDoNotFailArchive(t *testing.T) {
	t.Parallel()

	catalog := &recordingCatalog{}
	a := newTestArchiver(t, newMemStore(), nil, WithCatalog(catalog), WithPublisher(failingPublisher{}))

	out, err := a.Archive(context.Background(), "https://mohfw.gov.in/guide.pdf", bytes.NewReader(make([]byte, 60000)), 60000)
	require.NoError(t, err)
	assert.Equal(t, OutcomeArchived, out.Kind)
	require.Len(t, catalog.records, 1)
	assert.Equal(t, "guide.pdf", catalog.records[0].FileName)
}

func TestDeriveFileName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		url  string
		want string
	}{
		{name: "plain", url: "https://mohfw.gov.in/docs/report.pdf", want: "report.pdf"},
		{name: "decoded path", url: "https://mohfw.gov.in/docs/Annual%20Report%20(2023).PDF", want: "Annual Report 2023.PDF"},
		{name: "missing extension", url: "https://mohfw.gov.in/download?id=5", want: "download.pdf"},
		{name: "trailing slash", url: "https://mohfw.gov.in/docs/", want: "document_1709634600.pdf"},
		{name: "nothing left after sanitizing", url: "https://mohfw.gov.in/docs/%24%25", want: "document_1709634600.pdf"},
		{name: "hidden file", url: "https://mohfw.gov.in/.secret.pdf", want: "secret.pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, DeriveFileName(tt.url, archiveTime))
		})
	}
}

func TestDeriveFileNameTruncatesLongNames(t *testing.T) {
	t.Parallel()

	name := DeriveFileName("https://mohfw.gov.in/"+strings.Repeat("a", 400)+".pdf", archiveTime)
	assert.Len(t, name, maxFileNameBytes)
	assert.True(t, strings.HasSuffix(name, ".pdf"))
}

func TestSanitizeFileName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "etcpasswd.pdf", SanitizeFileName("../../etc/passwd.pdf"))
	assert.Equal(t, "report v2_final-1.pdf", SanitizeFileName("report v2_final-1.pdf"))
	assert.Equal(t, "a.pdf", SanitizeFileName(` ..a<>:"|?*.pdf`))
	assert.NotContains(t, SanitizeFileName(`a\b/c.pdf`), "/")
	assert.NotContains(t, SanitizeFileName(`a\b/c.pdf`), `\`)
}
