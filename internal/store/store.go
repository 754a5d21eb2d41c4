// Package store loads synth and pattern documents. Playback works on a
// snapshot: patterns are fetched once, before a session starts.
package store

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pion/logging"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/cbegin/synthseq-go/internal/pattern"
)

// Store returns the patterns for the given ids. Ids that do not exist are
// absent from the result; that is not an error.
type Store interface {
	Fetch(ctx context.Context, ids []string) (map[string]*pattern.Pattern, error)
}

// MemStore is an in-memory Store.
type MemStore struct {
	mu       sync.RWMutex
	patterns map[string]*pattern.Pattern
}

func NewMemStore(patterns ...*pattern.Pattern) *MemStore {
	m := &MemStore{patterns: make(map[string]*pattern.Pattern)}
	for _, p := range patterns {
		m.Put(p)
	}
	return m
}

func (m *MemStore) Put(p *pattern.Pattern) {
	if p == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patterns[p.ID()] = p
}

func (m *MemStore) Fetch(ctx context.Context, ids []string) (map[string]*pattern.Pattern, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*pattern.Pattern, len(ids))
	for _, id := range ids {
		if p, ok := m.patterns[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

// maxConcurrentReads bounds DirStore file reads per Fetch.
const maxConcurrentReads = 8

// DirStore reads pattern documents from <Dir>/<id>.json.
type DirStore struct {
	Dir string
	Log logging.LeveledLogger
}

func NewDirStore(dir string, log logging.LeveledLogger) *DirStore {
	if log == nil {
		log = logging.NewDefaultLeveledLoggerForScope("store", logging.LogLevelDisabled, io.Discard)
	}
	return &DirStore{Dir: dir, Log: log}
}

func validID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`)
}

func (s *DirStore) Fetch(ctx context.Context, ids []string) (map[string]*pattern.Pattern, error) {
	var mu sync.Mutex
	out := make(map[string]*pattern.Pattern, len(ids))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentReads)
	for _, id := range ids {
		if !validID(id) {
			s.Log.Warnf("skipping invalid pattern id %q", id)
			continue
		}
		id := id
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			p, err := s.read(id)
			if err != nil || p == nil {
				return err
			}
			mu.Lock()
			out[id] = p
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *DirStore) read(id string) (*pattern.Pattern, error) {
	path := filepath.Join(s.Dir, id+".json")
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		s.Log.Debugf("pattern %s not found", id)
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open pattern %s", id)
	}
	defer f.Close()
	doc, err := DecodePattern(f)
	if err != nil {
		return nil, errors.Wrapf(err, "pattern %s", id)
	}
	if doc.ID == "" {
		doc.ID = id
	}
	return doc.Pattern(), nil
}

// Resolve fetches the synth's referenced patterns and flattens them, in
// reference order, into one pattern. References that cannot be found
// contribute no notes.
func Resolve(ctx context.Context, st Store, doc SynthDocument) (*pattern.Pattern, error) {
	found, err := st.Fetch(ctx, doc.IDs())
	if err != nil {
		return nil, errors.Wrap(err, "resolve patterns")
	}
	parts := make([]*pattern.Pattern, 0, len(doc.Patterns))
	for _, r := range doc.Patterns {
		parts = append(parts, found[r.Ref])
	}
	id := doc.ID
	if id == "" {
		id = doc.Name
	}
	return pattern.Concat(id, parts...), nil
}
