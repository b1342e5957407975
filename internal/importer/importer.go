package importer

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/felo/emailparser/internal/logging"
	"github.com/felo/emailparser/internal/parser"
	"github.com/felo/emailparser/internal/scanner"
	"github.com/felo/emailparser/internal/store"
)

// Parser runs one raw email through the parse pipeline
type Parser interface {
	Parse(ctx context.Context, payload []byte, format parser.Format) (*store.Email, error)
}

// Importer pushes every email file under a folder through the pipeline
type Importer struct {
	parser      Parser
	scanner     *scanner.Scanner
	concurrency int // Number of concurrent workers
}

// NewImporter creates a new importer
func NewImporter(p Parser, emailsPath string) *Importer {
	return &Importer{
		parser:      p,
		scanner:     scanner.NewScanner(emailsPath),
		concurrency: 4,
	}
}

// WithConcurrency sets the number of concurrent workers
func (imp *Importer) WithConcurrency(workers int) *Importer {
	if workers < 1 {
		workers = 1
	}
	imp.concurrency = workers
	return imp
}

// Result contains statistics about an import run
type Result struct {
	TotalFound  int
	Imported    int
	Failed      int
	FailedFiles []string
}

type fileResult struct {
	filePath string
	err      error
}

// ImportAll scans the folder and parses every file using a worker pool.
// Files left when ctx is cancelled are counted as failed.
func (imp *Importer) ImportAll(ctx context.Context) (*Result, error) {
	files, err := imp.scanner.Scan()
	if err != nil {
		return nil, fmt.Errorf("failed to scan for files: %w", err)
	}

	result := &Result{
		TotalFound:  len(files),
		FailedFiles: make([]string, 0),
	}
	log := logging.Log.WithField("path", imp.scanner.RootPath())
	log.Infof("Found %d email files to import with %d workers", result.TotalFound, imp.concurrency)

	fileChan := make(chan scanner.File, len(files))
	resultChan := make(chan fileResult, len(files))

	var wg sync.WaitGroup
	for i := 0; i < imp.concurrency; i++ {
		wg.Add(1)
		go imp.worker(ctx, &wg, fileChan, resultChan)
	}

	for _, f := range files {
		fileChan <- f
	}
	close(fileChan)

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	for res := range resultChan {
		if res.err != nil {
			log.WithError(res.err).WithField("file", res.filePath).Warn("Import failed")
			result.Failed++
			result.FailedFiles = append(result.FailedFiles, res.filePath)
			continue
		}
		result.Imported++
	}

	log.Infof("Import complete: %d imported, %d failed", result.Imported, result.Failed)
	return result, nil
}

func (imp *Importer) worker(ctx context.Context, wg *sync.WaitGroup, fileChan <-chan scanner.File, resultChan chan<- fileResult) {
	defer wg.Done()

	for f := range fileChan {
		resultChan <- fileResult{
			filePath: f.Path,
			err:      imp.importFile(ctx, f),
		}
	}
}

func (imp *Importer) importFile(ctx context.Context, f scanner.File) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := os.ReadFile(imp.scanner.Abs(f.Path))
	if err != nil {
		return err
	}

	email, err := imp.parser.Parse(ctx, payload, f.Format)
	if err != nil {
		return err
	}

	logging.Log.WithField("file", f.Path).WithField("email_id", email.ID).Debug("Imported email")
	return nil
}
