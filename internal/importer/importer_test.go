package importer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/felo/emailparser/internal/extraction"
	"github.com/felo/emailparser/internal/parser"
	"github.com/felo/emailparser/internal/pipeline"
	"github.com/felo/emailparser/internal/store"
	"github.com/felo/emailparser/internal/store/memstore"
)

const emlFile = "From: desk@broker.com\r\n" +
	"To: ops@bank.com\r\n" +
	"Subject: Fill report\r\n" +
	"\r\n" +
	"Filled 100 @ 150\r\n"

type noQuotes struct{}

func (noQuotes) Submit(ctx context.Context, msg *parser.NormalizedMessage) ([]extraction.Result, error) {
	return nil, nil
}

type recordingParser struct {
	mu      sync.Mutex
	formats map[parser.Format]int
}

func (p *recordingParser) Parse(ctx context.Context, payload []byte, format parser.Format) (*store.Email, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.formats[format]++
	if string(payload) == "fail" {
		return nil, errors.New("parse failed")
	}
	return &store.Email{ID: int64(len(p.formats))}, nil
}

func writeFile(t *testing.T, root, rel, body string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestImportAll(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	root := t.TempDir()
	writeFile(t, root, "a.eml", emlFile)
	writeFile(t, root, "inbox/b.eml", emlFile)
	writeFile(t, root, "inbox/broken.eml", "this is not an email\r\n\r\nbody\r\n")
	writeFile(t, root, "readme.txt", "ignored")

	st := memstore.New()
	svc := pipeline.New(noQuotes{}, st)

	res, err := NewImporter(svc, root).WithConcurrency(2).ImportAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, res.TotalFound)
	assert.Equal(t, 2, res.Imported)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, []string{"inbox/broken.eml"}, res.FailedFiles)

	emails, err := st.List(context.Background())
	require.NoError(t, err)
	require.Len(t, emails, 2)
	assert.Equal(t, "Fill report", emails[0].Subject)
}

func TestImportAll_DispatchesByExtension(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.eml", "ok")
	writeFile(t, root, "b.msg", "ok")
	writeFile(t, root, "c.msg", "fail")

	p := &recordingParser{formats: map[parser.Format]int{}}
	res, err := NewImporter(p, root).ImportAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, p.formats[parser.FormatEML])
	assert.Equal(t, 2, p.formats[parser.FormatMSG])
	assert.Equal(t, 2, res.Imported)
	assert.Equal(t, []string{"c.msg"}, res.FailedFiles)
}

func TestImportAll_Cancelled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.eml", emlFile)
	writeFile(t, root, "b.eml", emlFile)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st := memstore.New()
	res, err := NewImporter(pipeline.New(noQuotes{}, st), root).ImportAll(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Failed)
	sort.Strings(res.FailedFiles)
	assert.Equal(t, []string{"a.eml", "b.eml"}, res.FailedFiles)
}

func TestImportAll_MissingFolder(t *testing.T) {
	_, err := NewImporter(&recordingParser{}, filepath.Join(t.TempDir(), "absent")).ImportAll(context.Background())
	assert.Error(t, err)
}

func TestWithConcurrency(t *testing.T) {
	imp := NewImporter(&recordingParser{}, ".").WithConcurrency(0)
	assert.Equal(t, 1, imp.concurrency)
}
