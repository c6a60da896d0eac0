// Package archive assembles discovered files into one sealed ZIP. Scanning
// and archiving overlap: fetch workers start pulling entries while the tree
// is still being resolved.
package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/ghzip/github-zip-server/pkg/s"
)

// DefaultQueueSize bounds the work queue between scanner and fetch workers.
// A full queue blocks discovery, which throttles listing calls naturally.
const DefaultQueueSize = 256

// DefaultWorkers derives the fetch pool size from available parallelism.
func DefaultWorkers() int {
	n := 4 * runtime.GOMAXPROCS(0)
	if n > 48 {
		n = 48
	}
	return n
}

// Fetcher is the slice of the GitHub client the pipeline needs.
type Fetcher interface {
	FetchFile(ctx context.Context, downloadURL string) ([]byte, error)
}

// Scanner produces file entries into a channel and returns once the tree is
// fully resolved or failed. pkg/scanner satisfies this.
type Scanner interface {
	Scan(ctx context.Context, owner, repo, root string, out chan<- s.PathEntry) error
}

// Progress is a monotonically increasing discovered/processed counter pair,
// readable at any time during a run. Discovered may lag the final total
// while scanning is incomplete.
type Progress struct {
	discovered atomic.Int64
	processed  atomic.Int64
}

func (p *Progress) Discovered() int64 { return p.discovered.Load() }
func (p *Progress) Processed() int64  { return p.processed.Load() }

// Pipeline coordinates one archive build: a scanner producing entries, a
// bounded queue, and a pool of fetch workers appending to a shared writer.
type Pipeline struct {
	scanner   Scanner
	fetcher   Fetcher
	workers   int
	queueSize int
}

func New(scanner Scanner, fetcher Fetcher, workers, queueSize int) *Pipeline {
	if workers <= 0 {
		workers = DefaultWorkers()
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Pipeline{scanner: scanner, fetcher: fetcher, workers: workers, queueSize: queueSize}
}

// Build scans owner/repo/root and returns the sealed archive bytes. Entry
// names are the discovered paths with the requested root prefix stripped,
// so the archive root corresponds to the requested folder.
//
// prog may be nil. Failure policy matches the scanner: the first file fetch
// error aborts the whole job.
//
// The zip writer maintains shared offset and central-directory state, so
// appends are serialized under one mutex while fetches stay parallel.
func (p *Pipeline) Build(ctx context.Context, owner, repo, root string, prog *Progress) ([]byte, error) {
	if prog == nil {
		prog = &Progress{}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		once     sync.Once
		buildErr error
	)
	fail := func(err error) {
		once.Do(func() {
			buildErr = err
			cancel()
		})
	}

	found := make(chan s.PathEntry)
	queue := make(chan s.PathEntry, p.queueSize)

	go func() {
		if err := p.scanner.Scan(ctx, owner, repo, root, found); err != nil {
			fail(err)
		}
		close(found)
	}()

	// Count discoveries on the way into the bounded queue so the total is
	// observable before any file finishes.
	go func() {
		defer close(queue)
		for en := range found {
			prog.discovered.Add(1)
			select {
			case queue <- en:
			case <-ctx.Done():
			}
		}
	}()

	var (
		buf   bytes.Buffer
		zipMu sync.Mutex
		wg    sync.WaitGroup
	)
	zw := zip.NewWriter(&buf)

	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for en := range queue {
				if ctx.Err() != nil {
					continue // drain without fetching once the job is dead
				}

				data, err := p.fetcher.FetchFile(ctx, en.DownloadURL)
				if err != nil {
					fail(err)
					continue
				}

				zipMu.Lock()
				w, err := zw.Create(RelativePath(root, en.Path))
				if err == nil {
					_, err = w.Write(data)
				}
				zipMu.Unlock()

				if err != nil {
					fail(err)
					continue
				}
				prog.processed.Add(1)
			}
		}()
	}

	wg.Wait()

	if buildErr != nil {
		return nil, buildErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
