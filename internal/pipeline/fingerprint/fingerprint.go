// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package fingerprint computes a stable identity for a file, independent of
// its path, so that FileServer can recognize the same logical file across
// renames.
package fingerprint

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"os"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Strategy selects how Fingerprinter derives identity from a file.
type Strategy int

const (
	// FirstLinesChecksum hashes the first Lines newline-delimited records
	// (or up to MaxBytes, whichever comes first).
	FirstLinesChecksum Strategy = iota
	// DeviceAndInode stats the file and uses (dev, inode) as identity.
	DeviceAndInode
)

// Fingerprint is the computed identity. Kind distinguishes which strategy
// produced it, so that two fingerprints from different strategies never
// compare equal even if their raw bits happen to collide.
type Fingerprint struct {
	Kind  Strategy
	Hash  uint64
	Dev   uint64
	Inode uint64
}

func (f Fingerprint) String() string {
	if f.Kind == DeviceAndInode {
		return fmt.Sprintf("dev-inode:%d:%d", f.Dev, f.Inode)
	}
	return fmt.Sprintf("first-lines:%x", f.Hash)
}

// ErrTooSmall is returned by the first-lines strategy when the file has
// fewer bytes than the configured MinBytes. Callers should remember the
// path and avoid re-reading it every discovery cycle until it grows.
var ErrTooSmall = errors.New("fingerprint: file too small to fingerprint")

// Config controls the first-lines strategy's thresholds.
type Config struct {
	Strategy   Strategy
	Lines      int // number of newline-delimited records to read, if > 0
	MaxBytes   int // cap on bytes read regardless of line count
	MinBytes   int // minimum file size before fingerprinting is attempted
}

func DefaultConfig() Config {
	return Config{Strategy: FirstLinesChecksum, Lines: 1, MaxBytes: 256, MinBytes: 1}
}

// Fingerprinter remembers too-small paths in a bounded LRU so that repeated
// discovery cycles do not re-read a file that hasn't grown enough to
// fingerprint yet. This mirrors the bounded-cache idiom used elsewhere in the
// pipeline for lookup sets that must not grow without limit.
type Fingerprinter struct {
	cfg      Config
	tooSmall *lru.Cache[string, struct{}]
}

func New(cfg Config) *Fingerprinter {
	cache, err := lru.New[string, struct{}](4096)
	if err != nil {
		// Only returns an error for a non-positive size, which never happens
		// here; fail loudly if that invariant is ever violated.
		cclog.Fatalf("[FINGERPRINT]> failed to create too-small cache: %s", err)
	}
	return &Fingerprinter{cfg: cfg, tooSmall: cache}
}

// Fingerprint computes the identity of path. Errors other than NotFound are
// logged and the caller should skip the path for this cycle; ErrTooSmall
// signals the first-lines strategy specifically.
func (fp *Fingerprinter) Fingerprint(path string) (Fingerprint, error) {
	if fp.cfg.Strategy == DeviceAndInode {
		return fingerprintDevInode(path)
	}

	if _, known := fp.tooSmall.Get(path); known {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				fp.tooSmall.Remove(path)
			}
			return Fingerprint{}, err
		}
		if info.Size() < int64(fp.cfg.MinBytes) {
			return Fingerprint{}, ErrTooSmall
		}
		fp.tooSmall.Remove(path)
	}

	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			cclog.Warnf("[FINGERPRINT]> error opening %s: %s", path, err)
		}
		return Fingerprint{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Fingerprint{}, err
	}
	if info.Size() < int64(fp.cfg.MinBytes) {
		fp.tooSmall.Add(path, struct{}{})
		return Fingerprint{}, ErrTooSmall
	}

	h := fnv.New64a()
	r := bufio.NewReader(io.LimitReader(f, int64(fp.cfg.MaxBytes)))
	lines := 0
	buf := make([]byte, 0, fp.cfg.MaxBytes)
	for fp.cfg.Lines <= 0 || lines < fp.cfg.Lines {
		line, err := r.ReadBytes('\n')
		buf = append(buf, line...)
		if len(line) > 0 {
			lines++
		}
		if err != nil {
			break
		}
	}
	if _, err := h.Write(bytes.TrimRight(buf, "\n")); err != nil {
		return Fingerprint{}, err
	}

	return Fingerprint{Kind: FirstLinesChecksum, Hash: h.Sum64()}, nil
}

func fingerprintDevInode(path string) (Fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			cclog.Warnf("[FINGERPRINT]> error stat'ing %s: %s", path, err)
		}
		return Fingerprint{}, err
	}
	dev, inode, err := statDevInode(info)
	if err != nil {
		return Fingerprint{}, err
	}
	return Fingerprint{Kind: DeviceAndInode, Dev: dev, Inode: inode}, nil
}
