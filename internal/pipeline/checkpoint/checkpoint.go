// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package checkpoint implements the persistent map fingerprint -> byte
// offset that lets a file-tailing source resume where it left off across
// restarts: atomic temp-file-then-rename writes, a periodic background
// worker selecting on (shutdown, interval tick), and a worker pool for
// blocking I/O.
package checkpoint

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/flowmesh-io/flowmesh-agent/internal/pipeline/workerpool"
)

const (
	formatVersion      = 1
	filePerm           = 0o644
	dirPerm            = 0o755
	checkpointFileName = "checkpoints.json"
	avroFileName       = "checkpoints.avro"
	legacyFileName     = "checkpoints.legacy"
)

// entry is the in-memory record for one tracked fingerprint.
type entry struct {
	position int64
	alive    bool
	modTime  time.Time
	hasMod   bool
	dirty    bool
}

// View is the concurrent mapping fingerprint -> (FilePosition, liveness
// flag), plus the global "modified" flag used to skip writes when nothing
// changed.
type View struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	modified bool
}

func NewView() *View {
	return &View{entries: make(map[string]*entry)}
}

// Update is an idempotent write of a fingerprint's position, setting the
// global modified flag.
func (v *View) Update(fingerprint string, position int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.entries[fingerprint]
	if !ok {
		e = &entry{}
		v.entries[fingerprint] = e
	}
	if e.position == position && e.alive {
		return
	}
	e.position = position
	e.alive = true
	e.dirty = true
	v.modified = true
}

// Get returns the persisted position for fingerprint, if any.
func (v *View) Get(fingerprint string) (int64, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	e, ok := v.entries[fingerprint]
	if !ok {
		return 0, false
	}
	return e.position, true
}

// SetDead marks fingerprint so that, on the next write cycle, it is
// persisted as a tombstone and then expunged from memory.
func (v *View) SetDead(fingerprint string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.entries[fingerprint]
	if !ok {
		return
	}
	e.alive = false
	e.dirty = true
	v.modified = true
}

func (v *View) snapshotDirty() map[string]entry {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]entry, len(v.entries))
	for fp, e := range v.entries {
		if e.dirty {
			out[fp] = *e
		}
	}
	return out
}

func (v *View) clearDirty(written map[string]entry) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for fp, snap := range written {
		e, ok := v.entries[fp]
		if !ok {
			continue
		}
		if !snap.alive {
			delete(v.entries, fp)
			continue
		}
		if e.position == snap.position {
			e.dirty = false
		}
	}
	v.modified = false
}

// record is the on-disk shape of one entry: {fingerprint, position, optional
// modification_time}.
type record struct {
	Fingerprint string `json:"fingerprint"`
	Position    int64  `json:"position"`
	ModTimeUnix *int64 `json:"modification_time,omitempty"`
	Tombstone   bool   `json:"tombstone,omitempty"`
}

type fileHeader struct {
	Version int      `json:"version"`
	Records []record `json:"records"`
}

// Checkpointer owns a View plus the filesystem location it persists to.
type Checkpointer struct {
	View *View
	Dir  string

	// NumWorkers sizes the blocking-executor pool used to offload
	// serialization off the cooperative scheduler.
	NumWorkers int

	// FileFormat selects the on-disk encoding: "" or "json" (the default,
	// human-inspectable) or "avro" (a compact binary container file).
	// Set directly after New; the zero value is "json".
	FileFormat string
}

func New(dir string, numWorkers int) *Checkpointer {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	return &Checkpointer{View: NewView(), Dir: dir, NumWorkers: numWorkers}
}

// CheckpointView exposes the position/liveness map backing this
// checkpointer, so callers that only need View access (filesource.FileServer)
// can depend on an interface instead of a concrete backend.
func (c *Checkpointer) CheckpointView() *View {
	return c.View
}

// WriteCheckpoints flushes all dirty state atomically (temp-file + rename)
// and returns the number of records written.
func (c *Checkpointer) WriteCheckpoints() (int, error) {
	dirty := c.View.snapshotDirty()
	if len(dirty) == 0 {
		return 0, nil
	}

	// Merge with whatever is already on disk for entries that are not
	// currently dirty, so a partial in-memory view never drops history.
	existing, err := c.readAll()
	if err != nil && !os.IsNotExist(err) {
		cclog.Warnf("[CHECKPOINT]> could not read existing checkpoint file before merge: %s", err)
	}

	merged := make(map[string]record, len(existing)+len(dirty))
	for _, r := range existing {
		// A tombstone already reached disk on an earlier write; drop it now.
		if r.Tombstone {
			continue
		}
		merged[r.Fingerprint] = r
	}
	for fp, e := range dirty {
		r := record{Fingerprint: fp, Position: e.position, Tombstone: !e.alive}
		if e.hasMod {
			u := e.modTime.Unix()
			r.ModTimeUnix = &u
		}
		merged[fp] = r
	}

	out := make([]record, 0, len(merged))
	for _, r := range merged {
		out = append(out, r)
	}

	// The actual write is blocking filesystem I/O; offload it onto the
	// worker pool so the caller (the periodic writer goroutine) never blocks
	// the cooperative scheduler directly. A single item is enough work to
	// exercise the pool without needlessly splitting one file across
	// workers.
	_, writeErr := workerpool.Run(c.NumWorkers, []int{0}, func(int) error {
		if c.FileFormat == "avro" {
			return writeAvroFile(filepath.Join(c.Dir, avroFileName), out)
		}
		return atomicWriteJSON(filepath.Join(c.Dir, checkpointFileName), fileHeader{Version: formatVersion, Records: out})
	})
	if writeErr != nil {
		return 0, writeErr
	}

	c.View.clearDirty(dirty)
	return len(dirty), nil
}

func atomicWriteJSON(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := json.NewEncoder(bw).Encode(v); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (c *Checkpointer) readAll() ([]record, error) {
	if c.FileFormat == "avro" {
		return readAvroFile(filepath.Join(c.Dir, avroFileName))
	}

	f, err := os.Open(filepath.Join(c.Dir, checkpointFileName))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var h fileHeader
	if err := json.NewDecoder(bufio.NewReader(f)).Decode(&h); err != nil {
		return nil, err
	}
	return h.Records, nil
}

// ReadCheckpoints loads persisted state; entries older than ignoreBefore (by
// file modification time, if known) are dropped.
func (c *Checkpointer) ReadCheckpoints(ignoreBefore *time.Time) error {
	if err := c.maybeUpgrade(); err != nil {
		cclog.Warnf("[CHECKPOINT]> legacy format migration failed: %s", err)
	}

	records, err := c.readAll()
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	c.View.mu.Lock()
	defer c.View.mu.Unlock()
	for _, r := range records {
		if r.Tombstone {
			continue
		}
		if ignoreBefore != nil && r.ModTimeUnix != nil {
			if time.Unix(*r.ModTimeUnix, 0).Before(*ignoreBefore) {
				continue
			}
		}
		e := &entry{position: r.Position, alive: true}
		if r.ModTimeUnix != nil {
			e.modTime = time.Unix(*r.ModTimeUnix, 0)
			e.hasMod = true
		}
		c.View.entries[r.Fingerprint] = e
	}
	return nil
}

// maybeUpgrade performs a one-time migration from the legacy
// "fingerprint\tposition" plain-text format to the current on-disk format
// (JSON or Avro, per FileFormat).
func (c *Checkpointer) maybeUpgrade() error {
	legacyPath := filepath.Join(c.Dir, legacyFileName)
	data, err := os.ReadFile(legacyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	c.View.mu.Lock()
	for _, line := range lines {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) != 2 {
			continue
		}
		pos, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			continue
		}
		c.View.entries[parts[0]] = &entry{position: pos, alive: true, dirty: true}
	}
	c.View.modified = true
	c.View.mu.Unlock()

	if _, err := c.WriteCheckpoints(); err != nil {
		return err
	}
	return os.Rename(legacyPath, legacyPath+".migrated")
}

// RunWriter spawns the periodic background writer: it selects on
// (shutdown, interval tick), performing one final write after shutdown is
// observed and before returning. Grounded on
// pkg/metricstore/checkpoint.go's Checkpointing worker.
func (c *Checkpointer) RunWriter(ctx context.Context, wg *sync.WaitGroup, interval time.Duration) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				n, err := c.WriteCheckpoints()
				if err != nil {
					cclog.Errorf("[CHECKPOINT]> final write failed: %s", err)
				} else {
					cclog.Infof("[CHECKPOINT]> final write: %d records", n)
				}
				return
			case <-ticker.C:
				start := time.Now()
				n, err := c.WriteCheckpoints()
				if err != nil {
					cclog.Errorf("[CHECKPOINT]> write failed: %s", err)
					continue
				}
				cclog.Debugf("[CHECKPOINT]> wrote %d records in %s", n, time.Since(start))
			}
		}
	}()
}

// RunWriterCron schedules the periodic checkpoint write and, optionally, a
// retention/cleanup sweep using cron expressions instead of a fixed
// interval, for deployments that want "every night at 2am" rather than
// "every 10s". Both expressions accept an optional leading seconds field
// (gocron.CronJob's withSeconds=true), so sub-minute schedules are
// possible. Grounded on internal/taskmanager's gocron.Scheduler usage: one
// NewJob per scheduled task, Start once all jobs are registered. The
// caller must call Shutdown on the returned scheduler, and should perform
// one final WriteCheckpoints afterwards, as RunWriter does for the ticker
// case.
func (c *Checkpointer) RunWriterCron(writeCron, retentionCron string, retain func()) (gocron.Scheduler, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("checkpoint: create scheduler: %w", err)
	}

	if _, err := scheduler.NewJob(
		gocron.CronJob(writeCron, true),
		gocron.NewTask(func() {
			n, err := c.WriteCheckpoints()
			if err != nil {
				cclog.Errorf("[CHECKPOINT]> cron write failed: %s", err)
				return
			}
			cclog.Debugf("[CHECKPOINT]> cron wrote %d records", n)
		}),
	); err != nil {
		return nil, fmt.Errorf("checkpoint: schedule write job: %w", err)
	}

	if retentionCron != "" && retain != nil {
		if _, err := scheduler.NewJob(gocron.CronJob(retentionCron, true), gocron.NewTask(retain)); err != nil {
			return nil, fmt.Errorf("checkpoint: schedule retention job: %w", err)
		}
	}

	scheduler.Start()
	return scheduler, nil
}
