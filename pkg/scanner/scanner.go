// Package scanner resolves a repository path into a flat stream of file
// entries, fanning out sibling directory listings concurrently.
package scanner

import (
	"context"
	"sync"

	"github.com/ghzip/github-zip-server/pkg/s"
)

// DefaultDirConcurrency caps concurrent directory-listing calls. It is sized
// independently from the file-fetch worker pool.
const DefaultDirConcurrency = 8

// Lister is the slice of the GitHub client the scanner needs.
type Lister interface {
	ListDirectory(ctx context.Context, owner, repo, path string) ([]s.PathEntry, error)
}

// Scanner walks a repository subtree. The fan-out of a node is unknown until
// its listing resolves, so the walk is a dynamic parallel graph traversal
// bounded by a semaphore.
type Scanner struct {
	lister         Lister
	dirConcurrency int
}

func New(lister Lister, dirConcurrency int) *Scanner {
	if dirConcurrency <= 0 {
		dirConcurrency = DefaultDirConcurrency
	}
	return &Scanner{lister: lister, dirConcurrency: dirConcurrency}
}

// Scan lists root and recursively resolves subdirectories, sending every
// file entry to out as soon as it is discovered. Scan does not close out.
//
// Failure policy: the first listing error anywhere in the tree aborts the
// whole scan. A partial archive that silently misses a subtree is worse
// than a clean failure, so sibling results already emitted are discarded
// by the caller when Scan returns an error.
func (sc *Scanner) Scan(ctx context.Context, owner, repo, root string, out chan<- s.PathEntry) error {
	entries, err := sc.lister.ListDirectory(ctx, owner, repo, root)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	sem := make(chan struct{}, sc.dirConcurrency)

	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	var walk func(entries []s.PathEntry)
	walk = func(entries []s.PathEntry) {
		for _, en := range entries {
			switch en.Kind {
			case s.EntryFile:
				select {
				case out <- en:
				case <-ctx.Done():
					return
				}
			case s.EntryDir:
				wg.Add(1)
				go func(dir string) {
					defer wg.Done()

					// Hold a semaphore slot only for the listing call, never
					// while waiting on children, otherwise deep trees deadlock.
					select {
					case sem <- struct{}{}:
					case <-ctx.Done():
						return
					}
					children, err := sc.lister.ListDirectory(ctx, owner, repo, dir)
					<-sem

					if err != nil {
						fail(err)
						return
					}
					walk(children)
				}(en.Path)
			}
		}
	}

	walk(entries)
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}
