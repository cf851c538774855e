// Package monitoring - snapshot.go persists snapshots to disk.
//
// DESIGN: FileSink writes each snapshot once, as an indented JSON file:
//
//	<root>/<sessionId>/<timestamp>-<callId>.json
//
// A repeated call id at the same timestamp gets a "-2", "-3", ... suffix, so
// every check keeps its own file. It also appends a compact line to <root>/<sessionId>/snapshots.jsonl so a
// session can be replayed with a single read. Files are never rewritten.
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/compresr/callrisk/internal/utils"
)

const (
	snapshotIndexFile  = "snapshots.jsonl"
	snapshotTimeLayout = "20060102T150405.000000000Z"
	maxSnapshotSuffix  = 1000
)

// FileSink writes snapshots below a root directory.
type FileSink struct {
	root  string
	mu    sync.Mutex
	count int
}

// NewFileSink creates a sink rooted at dir, creating it if needed.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &FileSink{root: dir}, nil
}

// Root returns the sink's root directory.
func (s *FileSink) Root() string {
	return s.root
}

// PathFor returns the file a snapshot is written to when no earlier
// snapshot took the name.
func (s *FileSink) PathFor(snap *Snapshot) string {
	name := snap.Timestamp.UTC().Format(snapshotTimeLayout) + "-" + safeName(snap.CallID) + ".json"
	return filepath.Join(s.root, safeName(snap.SessionID), name)
}

// Write persists snap. Existing files are never overwritten.
func (s *FileSink) Write(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := utils.MarshalIndentNoEscape(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	line, err := utils.MarshalNoEscape(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	path := s.PathFor(snap)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	f, err := createUnique(path)
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}

	indexPath := filepath.Join(filepath.Dir(path), snapshotIndexFile)
	if err := appendJSONL(indexPath, line); err != nil {
		// The per-call file is authoritative; a missing index line is recoverable.
		log.Warn().Err(err).Str("path", indexPath).Msg("monitoring: failed to append snapshot index")
	}

	s.count++
	return nil
}

// Count returns the number of snapshots written by this sink.
func (s *FileSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// createUnique creates path, or path with the first free numeric suffix.
func createUnique(path string) (*os.File, error) {
	base := strings.TrimSuffix(path, ".json")
	candidate := path
	for n := 2; ; n++ {
		f, err := os.OpenFile(candidate, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
		if err == nil || !errors.Is(err, fs.ErrExist) || n > maxSnapshotSuffix {
			return f, err
		}
		candidate = fmt.Sprintf("%s-%d.json", base, n)
	}
}

// appendJSONL appends a single encoded JSON object as a line to the file.
func appendJSONL(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	_, err = f.Write(append(line, '\n'))
	return err
}

// safeName keeps ids from escaping the session directory.
func safeName(id string) string {
	if id == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, strings.ReplaceAll(id, "..", "_"))
}
