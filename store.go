// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package ringleaf

import (
	"bufio"
	"os"
	"path/filepath"
	"sync"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/dhtlab/ringleaf/internal/bptree"
)

// store is the guarded per-node local index. The B+ tree is not
// thread-safe, so every access goes through the single-writer lock;
// concurrent handlers serialize here.
//
// Persistence is best-effort: sync snapshots the index to one file
// named after the node id, and discard removes it on shutdown. The
// file is rebuildable and a stale one left by a crashed run is
// removed at startup, so the index always starts empty.
type store struct {
	mu   sync.RWMutex
	tree *bptree.Map[Value]
	path string // empty when persistence is disabled
	log  *zap.Logger
}

func newStore(order int, dir string, id Id, log *zap.Logger) *store {
	s := &store{
		tree: bptree.New[Value](order),
		log:  log,
	}
	if dir != "" {
		s.path = filepath.Join(dir, "index_"+id.Hex()+".jsonl")
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			// Fall back to a memory-only index rather than fail the node.
			log.Warn("stale index file not removable, persistence disabled",
				zap.String("path", s.path), zap.Error(err))
			s.path = ""
		}
	}
	return s
}

// put inserts or overwrites one entry. The value bytes are copied so
// the index never aliases a network buffer.
func (s *store) put(k Id, v Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree.Insert(k, append(Value(nil), v...))
}

func (s *store) get(k Id) (Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Get(k)
}

func (s *store) delete(k Id) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Delete(k)
}

func (s *store) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Len()
}

// snapshot returns every entry in ascending key order.
func (s *store) snapshot() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]Entry, 0, s.tree.Len())
	for k, v := range s.tree.All() {
		items = append(items, Entry{Key: k, Data: v})
	}
	return items
}

// extract removes and returns every entry whose key satisfies match.
// It is the owner-side half of key handoff: copy, then delete, under
// one critical section.
func (s *store) extract(match func(Id) bool) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []Entry
	for k, v := range s.tree.All() {
		if match(k) {
			items = append(items, Entry{Key: k, Data: v})
		}
	}
	for _, e := range items {
		s.tree.Delete(e.Key)
	}
	return items
}

func (s *store) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree.Clear()
}

// sync writes the current snapshot to the index file, one JSON entry
// per line. A failure is surfaced as a StorageError and the in-memory
// index stays authoritative.
func (s *store) sync() error {
	if s.path == "" {
		return nil
	}
	items := s.snapshot()

	f, err := os.CreateTemp(filepath.Dir(s.path), ".index-*")
	if err != nil {
		return &StorageError{Path: s.path, Err: err}
	}
	w := bufio.NewWriter(f)
	for _, e := range items {
		line, err := json.Marshal(e)
		if err == nil {
			_, err = w.Write(append(line, '\n'))
		}
		if err != nil {
			f.Close()
			os.Remove(f.Name())
			return &StorageError{Path: s.path, Err: err}
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(f.Name())
		return &StorageError{Path: s.path, Err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return &StorageError{Path: s.path, Err: err}
	}
	if err := os.Rename(f.Name(), s.path); err != nil {
		os.Remove(f.Name())
		return &StorageError{Path: s.path, Err: err}
	}
	return nil
}

// discard removes the on-disk index, if any.
func (s *store) discard() {
	if s.path == "" {
		return
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		s.log.Warn("remove index file", zap.String("path", s.path), zap.Error(err))
	}
}
