package metadata

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// ErrStoreClosed is returned for requests made after the store stopped
var ErrStoreClosed = errors.New("document store closed")

// UpdateFunc receives the stored document, nil when absent, and returns the
// document to write. Returning nil writes nothing.
type UpdateFunc func(current *Document) (*Document, error)

type request struct {
	path  string
	fn    UpdateFunc
	reply chan response
}

type response struct {
	doc *Document
	err error
}

// Store is the only writer of canonical documents. All document I/O runs on
// the goroutine executing Run, one request at a time.
type Store struct {
	fs       afero.Fs
	logger   *zap.Logger
	requests chan request
	done     chan struct{}
}

// NewStore creates a store on fs. Run must be started before use.
func NewStore(fs afero.Fs, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		fs:       fs,
		logger:   logger.Named("store"),
		requests: make(chan request),
		done:     make(chan struct{}),
	}
}

// Run serves requests until ctx is done
func (s *Store) Run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.requests:
			doc, err := s.apply(req.path, req.fn)
			req.reply <- response{doc: doc, err: err}
		}
	}
}

// Update runs fn as one read-modify-write on path. It returns the document
// now on disk, or the current one when fn wrote nothing.
func (s *Store) Update(ctx context.Context, path string, fn UpdateFunc) (*Document, error) {
	req := request{path: path, fn: fn, reply: make(chan response, 1)}
	select {
	case s.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, ErrStoreClosed
	}

	select {
	case resp := <-req.reply:
		return resp.doc, resp.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Load returns the stored document, nil when absent
func (s *Store) Load(ctx context.Context, path string) (*Document, error) {
	return s.Update(ctx, path, func(current *Document) (*Document, error) {
		return nil, nil
	})
}

func (s *Store) apply(path string, fn UpdateFunc) (*Document, error) {
	current, err := s.read(path)
	if err != nil {
		// Unreadable documents count as absent.
		s.logger.Warn("Failed to read document", zap.String("path", path), zap.Error(err))
		current = nil
	}

	next, err := fn(current.Clone())
	if err != nil {
		return current, err
	}
	if next == nil {
		return current, nil
	}

	if current.PickedUp() && !next.State.PickedUp {
		s.logger.Debug("Keeping pickup flag", zap.String("path", path))
		next.State.PickedUp = true
	}
	if next.Version == 0 {
		next.Version = DocumentVersion
	}

	if err := s.write(path, next); err != nil {
		return next, err
	}
	return next, nil
}

func (s *Store) read(path string) (*Document, error) {
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return UnmarshalDocument(data)
}

// write replaces path atomically through a temporary sibling
func (s *Store) write(path string, doc *Document) error {
	data, err := doc.Marshal()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := s.fs.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp, err := afero.TempFile(s.fs, dir, ".document-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary document: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return fmt.Errorf("failed to write document: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return fmt.Errorf("failed to sync document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		s.fs.Remove(tmpName)
		return fmt.Errorf("failed to close document: %w", err)
	}
	if err := s.fs.Rename(tmpName, path); err != nil {
		s.fs.Remove(tmpName)
		return fmt.Errorf("failed to store document: %w", err)
	}
	return nil
}

// Entry describes one stored document for listing
type Entry struct {
	Path     string    `json:"path" yaml:"path"`
	Name     string    `json:"name" yaml:"name"`
	Modified time.Time `json:"modified" yaml:"modified"`
	Document *Document `json:"document,omitempty" yaml:"document,omitempty"`
}

// List reads every document in dir, newest first. Unreadable documents are
// listed without content.
func List(fs afero.Fs, dir string) ([]Entry, error) {
	infos, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		if info.IsDir() || filepath.Ext(info.Name()) != ".ini" {
			continue
		}
		path := filepath.Join(dir, info.Name())
		entry := Entry{Path: path, Name: info.Name(), Modified: info.ModTime()}
		if data, err := afero.ReadFile(fs, path); err == nil {
			if doc, err := UnmarshalDocument(data); err == nil {
				entry.Document = doc
			}
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Modified.After(entries[j].Modified)
	})
	return entries, nil
}
