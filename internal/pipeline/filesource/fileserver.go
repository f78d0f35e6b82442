// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package filesource

import (
	"context"
	"os"
	"sort"
	"sync"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/flowmesh-io/flowmesh-agent/internal/pipeline/checkpoint"
	"github.com/flowmesh-io/flowmesh-agent/internal/pipeline/fingerprint"
	"golang.org/x/time/rate"
)

// PathsProvider is called once per discovery cycle and returns an unordered
// collection of filesystem paths. Implementations may apply glob expansion
// or exclusion rules; FileServer does not assume deduplication.
type PathsProvider interface {
	Paths() ([]string, error)
}

// Line is one emitted record: the line bytes and the path it came from.
type Line struct {
	Bytes  []byte
	Source string
}

// Config is the deliberately-exposed tuning surface of the file-tailing
// source.
type Config struct {
	MaxLineBytes        int
	MaxReadBytes        int
	StartAtBeginning    bool
	IgnoreBefore        *time.Time
	GlobMinimumCooldown time.Duration
	OldestFirst         bool
	RemoveAfter         time.Duration
	FingerprintStrategy fingerprint.Strategy
	BackoffCapMax       time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxLineBytes:        1024 * 1024,
		MaxReadBytes:        2048,
		GlobMinimumCooldown: time.Second,
		BackoffCapMax:       2048 * time.Millisecond,
		FingerprintStrategy: fingerprint.FirstLinesChecksum,
	}
}

// CheckpointStore is the subset of a checkpoint backend FileServer depends
// on: a position/liveness View to read and update during tailing, plus the
// ability to flush that state on demand for the final-flush-on-shutdown
// path. Both checkpoint.Checkpointer and checkpoint.SQLiteCheckpointer
// satisfy it via their CheckpointView method, so FileServer does not need to
// know which storage backend is configured.
type CheckpointStore interface {
	WriteCheckpoints() (int, error)
	CheckpointView() *checkpoint.View
}

// FileServer cooperatively schedules reads across all matching files,
// discovers new files, detects rotations and renames, enforces fairness, and
// drives checkpoint persistence.
type FileServer struct {
	cfg   Config
	paths PathsProvider
	ckpt  CheckpointStore
	fp    *fingerprint.Fingerprinter

	// mu guards keys/watchers against concurrent reads from Snapshot; Run
	// itself is single-goroutine and never needs it for its own access
	// patterns, only to stay consistent with a concurrent Snapshot call.
	mu sync.Mutex
	// keys preserves insertion order (oldest-discovered first), standing in
	// for the Rust IndexMap used upstream; Go has no ordered-map primitive.
	keys     []string
	watchers map[string]*FileWatcher

	backoffCap time.Duration
	// globLimiter bounds how often discover() re-lists paths: a burst of one
	// lets the very first cycle run immediately, then enforces
	// GlobMinimumCooldown between re-lists regardless of how tight the outer
	// read/backoff loop spins.
	globLimiter *rate.Limiter
}

// WatcherState is a point-in-time snapshot of one tracked file, for
// operator-facing diagnostics.
type WatcherState struct {
	Path            string
	FilePosition    int64
	LastReadSuccess time.Time
	Findable        bool
	Dead            bool
}

// Snapshot returns the current state of every tracked watcher, in discovery
// order. Safe to call concurrently with Run.
func (s *FileServer) Snapshot() []WatcherState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]WatcherState, 0, len(s.keys))
	for _, key := range s.keys {
		w, ok := s.watchers[key]
		if !ok {
			continue
		}
		out = append(out, WatcherState{
			Path:            w.Path,
			FilePosition:    w.FilePosition(),
			LastReadSuccess: w.LastReadSuccess(),
			Findable:        w.Findable(),
			Dead:            w.Dead(),
		})
	}
	return out
}

func NewFileServer(cfg Config, paths PathsProvider, ckpt CheckpointStore) *FileServer {
	return &FileServer{
		cfg:         cfg,
		paths:       paths,
		ckpt:        ckpt,
		fp:          fingerprint.New(fingerprint.Config{Strategy: cfg.FingerprintStrategy, Lines: 1, MaxBytes: 256, MinBytes: 1}),
		watchers:    make(map[string]*FileWatcher),
		backoffCap:  1 * time.Millisecond,
		globLimiter: rate.NewLimiter(rate.Every(cfg.GlobMinimumCooldown), 1),
	}
}

// Run drives the main loop until ctx is cancelled, sending batches of lines
// to out. One final checkpoint flush is guaranteed before Run returns.
func (s *FileServer) Run(ctx context.Context, out chan<- []Line) error {
	if err := s.startupDiscovery(); err != nil {
		cclog.Warnf("[FILESERVER]> startup discovery error: %s", err)
	}

	for {
		// Discovery gating: only re-list paths once the cooldown has elapsed.
		if s.globLimiter.Allow() {
			if err := s.discover(); err != nil {
				cclog.Warnf("[FILESERVER]> discovery error: %s", err)
			}
		}

		// Reading phase, with the oldest_first fairness break-out.
		batch, globalBytesRead := s.readPhase()

		// Drop dead watchers.
		s.reap()

		// Emit this cycle's batch.
		if len(batch) > 0 {
			select {
			case out <- batch:
			case <-ctx.Done():
				s.finalFlush()
				return nil
			}
		}

		// Exponential backoff, decremented by however many bytes were just read.
		if globalBytesRead == 0 {
			s.backoffCap *= 2
			if s.backoffCap > s.cfg.BackoffCapMax {
				s.backoffCap = s.cfg.BackoffCapMax
			}
		} else {
			s.backoffCap = 1 * time.Millisecond
		}
		sleep := s.backoffCap - time.Duration(globalBytesRead)*time.Millisecond
		if sleep < 0 {
			sleep = 0
		}

		// Interruptible sleep so shutdown isn't delayed by a long backoff.
		select {
		case <-ctx.Done():
			s.finalFlush()
			return nil
		case <-time.After(sleep):
		}
	}
}

func (s *FileServer) finalFlush() {
	if _, err := s.ckpt.WriteCheckpoints(); err != nil {
		cclog.Errorf("[FILESERVER]> final checkpoint flush failed: %s", err)
	}
}

// startupDiscovery lists existing files once, sorted by creation time
// ascending, and inserts them in that order so older files get scheduled
// first.
func (s *FileServer) startupDiscovery() error {
	paths, err := s.paths.Paths()
	if err != nil {
		return err
	}

	type withCtime struct {
		path  string
		ctime time.Time
	}
	entries := make([]withCtime, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		entries = append(entries, withCtime{path: p, ctime: creationTime(info)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ctime.Before(entries[j].ctime) })

	for _, e := range entries {
		s.openNewWatcher(e.path)
	}
	return nil
}

// discover marks all watchers not-findable, enumerates paths, fingerprints
// each, and either confirms, renames, or tie-breaks an existing watcher, or
// creates a new one.
func (s *FileServer) discover() error {
	for _, k := range s.keys {
		s.watchers[k].SetFindable(false)
	}

	paths, err := s.paths.Paths()
	if err != nil {
		return err
	}

	seenThisCycle := make(map[string]string) // fingerprint -> path already matched this cycle

	for _, path := range paths {
		fp, err := s.fp.Fingerprint(path)
		if err != nil {
			if err == fingerprint.ErrTooSmall {
				continue
			}
			if !os.IsNotExist(err) {
				cclog.Warnf("[FILESERVER]> fingerprint error for %s: %s", path, err)
			}
			continue
		}
		key := fp.String()

		w, tracked := s.watchers[key]
		if !tracked {
			s.createWatcher(key, path)
			seenThisCycle[key] = path
			continue
		}

		if w.Path == path {
			w.SetFindable(true)
			seenThisCycle[key] = path
			continue
		}

		prevPath, seen := seenThisCycle[key]
		if !seen {
			// First sighting this cycle for this fingerprint at a new path:
			// a rename.
			if err := w.UpdatePath(path); err != nil {
				cclog.Warnf("[FILESERVER]> rename update failed for %s: %s", path, err)
				continue
			}
			w.SetFindable(true)
			seenThisCycle[key] = path
			continue
		}

		// Duplicate-fingerprint rule: two live paths hash identically this
		// cycle. Tie-break by choosing the path with the greater
		// modification time.
		newInfo, errNew := os.Stat(path)
		oldInfo, errOld := os.Stat(prevPath)
		if errNew != nil || errOld != nil {
			continue
		}
		if newInfo.ModTime().After(oldInfo.ModTime()) {
			if err := w.UpdatePath(path); err != nil {
				cclog.Warnf("[FILESERVER]> tie-break update failed for %s: %s", path, err)
				continue
			}
			w.SetFindable(true)
			seenThisCycle[key] = path
		}
		// else: the loser path is dropped until next cycle.
	}

	return nil
}

func (s *FileServer) createWatcher(key, path string) {
	startPos := int64(0)
	if pos, ok := s.ckpt.CheckpointView().Get(key); ok {
		startPos = pos
	} else if !s.cfg.StartAtBeginning {
		if info, err := os.Stat(path); err == nil {
			startPos = info.Size()
		}
	}

	w, err := NewFileWatcher(path, startPos, s.cfg.IgnoreBefore, s.cfg.MaxLineBytes)
	if err != nil {
		cclog.Warnf("[FILESERVER]> could not open new file %s: %s", path, err)
		return
	}
	cclog.Infof("[FILESERVER]> file added: %s", path)
	s.mu.Lock()
	s.watchers[key] = w
	s.keys = append(s.keys, key)
	s.mu.Unlock()
}

func (s *FileServer) openNewWatcher(path string) {
	fp, err := s.fp.Fingerprint(path)
	if err != nil {
		return
	}
	s.createWatcher(fp.String(), path)
}

// readPhase iterates watchers in insertion order, reads while ShouldRead()
// holds, accumulates lines, enforces the max-read-bytes cutoff per watcher,
// and applies the oldest_first fairness break-out. Returns the accumulated
// batch and the total bytes read this iteration.
func (s *FileServer) readPhase() ([]Line, int) {
	var batch []Line
	globalBytesRead := 0

	for _, key := range s.keys {
		w := s.watchers[key]
		if !w.ShouldRead() {
			continue
		}

		bytesRead := 0
		maxedOut := false
		sawBytes := false

		for {
			line, err := w.ReadLine()
			if err != nil {
				if !os.IsNotExist(err) {
					cclog.Warnf("[FILESERVER]> read error on %s: %s", w.Path, err)
				}
				break
			}
			if line == nil {
				break
			}
			n := len(line) + 1
			bytesRead += n
			globalBytesRead += n
			sawBytes = true
			batch = append(batch, Line{Bytes: line, Source: w.Path})

			if bytesRead > s.cfg.MaxReadBytes {
				maxedOut = true
				break
			}
		}

		if bytesRead > 0 {
			s.ckpt.CheckpointView().Update(key, w.FilePosition())
		}

		if !sawBytes && s.cfg.RemoveAfter > 0 && time.Since(w.LastReadSuccess()) > s.cfg.RemoveAfter {
			if err := os.Remove(w.Path); err == nil {
				w.SetDead()
			}
			// on failure, try again next iteration
		}

		if s.cfg.OldestFirst && maxedOut {
			break
		}
	}

	return batch, globalBytesRead
}

// reap drops watchers marked dead and marks their fingerprints dead in the
// checkpoint view.
func (s *FileServer) reap() {
	alive := s.keys[:0:0]
	var dead []string
	for _, key := range s.keys {
		w := s.watchers[key]
		if w.Dead() {
			dead = append(dead, key)
			continue
		}
		alive = append(alive, key)
	}

	if len(dead) == 0 {
		return
	}

	s.mu.Lock()
	s.keys = alive
	for _, key := range dead {
		w := s.watchers[key]
		cclog.Infof("[FILESERVER]> file removed: %s", w.Path)
		s.ckpt.CheckpointView().SetDead(key)
		w.Close()
		delete(s.watchers, key)
	}
	s.mu.Unlock()
}
