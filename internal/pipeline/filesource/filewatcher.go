// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package filesource implements the FileWatcher and FileServer components:
// a polling, rotation-aware, fair-scheduling log tailer. Ported in semantics
// from the upstream Rust file_watcher.rs / file_server.rs.
package filesource

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
)

// gzipMagic is the two-byte header that selects gzip decoding.
var gzipMagic = []byte{0x1f, 0x8b}

// FileWatcher is the polling-based state machine which reads from a single
// file path, transparently updating the underlying file descriptor when the
// file has been rolled over. It is expected to live for the lifetime of the
// file; FileServer is responsible for clearing away FileWatchers that no
// longer exist.
type FileWatcher struct {
	Path string

	findable     bool
	reader       *bufio.Reader
	closer       io.Closer
	filePosition int64
	dev, inode   uint64
	dead         bool

	lastReadAttempt time.Time
	lastReadSuccess time.Time

	maxLineBytes int
	buf          []byte
}

// NewFileWatcher creates a new FileWatcher primed at filePosition. ignoreBefore,
// if non-nil, causes files whose mtime predates it to be seeked to
// end-of-file on first open (or, for gzip files, never re-read).
func NewFileWatcher(path string, filePosition int64, ignoreBefore *time.Time, maxLineBytes int) (*FileWatcher, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	dev, inode, err := statDevInode(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	tooOld := ignoreBefore != nil && info.ModTime().Before(*ignoreBefore)

	br := bufio.NewReader(f)
	gzipped, err := isGzipped(br)
	if err != nil {
		f.Close()
		return nil, err
	}

	var reader *bufio.Reader
	var closer io.Closer = f
	position := filePosition

	switch {
	case gzipped:
		if filePosition != 0 || tooOld {
			cclog.Debugf("[FILEWATCHER]> not re-reading gzipped file with existing stored offset: %s (position=%d)", path, filePosition)
			reader = bufio.NewReader(bytes.NewReader(nil))
			closer = f
		} else {
			gz, err := gzip.NewReader(br)
			if err != nil {
				f.Close()
				return nil, err
			}
			reader = bufio.NewReader(gz)
			closer = multiCloser{gz, f}
			position = 0
		}
	case tooOld:
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			f.Close()
			return nil, err
		}
		pos, err := f.Seek(0, io.SeekCurrent)
		if err != nil {
			f.Close()
			return nil, err
		}
		position = pos
		reader = bufio.NewReader(f)
	default:
		if _, err := f.Seek(filePosition, io.SeekStart); err != nil {
			f.Close()
			return nil, err
		}
		reader = bufio.NewReader(f)
	}

	now := time.Now()
	return &FileWatcher{
		Path:            path,
		findable:        true,
		reader:          reader,
		closer:          closer,
		filePosition:    position,
		dev:             dev,
		inode:           inode,
		lastReadAttempt: now,
		lastReadSuccess: now,
		maxLineBytes:    maxLineBytes,
	}, nil
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var first error
	for _, c := range m {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func isGzipped(r *bufio.Reader) (bool, error) {
	header, err := r.Peek(2)
	if err != nil {
		if err == io.EOF || err == bufio.ErrBufferFull {
			return false, nil
		}
		return false, err
	}
	return bytes.Equal(header, gzipMagic), nil
}

// UpdatePath rebinds the watcher to a new filesystem path. If the underlying
// (device, inode) changed, the reader is reopened at the stored position (or
// at zero for newly-encountered gzip files); otherwise only Path is updated,
// since the same file is still open under the new name.
func (w *FileWatcher) UpdatePath(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}

	dev, inode, err := statDevInode(f)
	if err != nil {
		f.Close()
		return err
	}

	if dev == w.dev && inode == w.inode {
		f.Close()
		w.Path = path
		return nil
	}

	br := bufio.NewReader(f)
	gzipped, err := isGzipped(br)
	if err != nil {
		f.Close()
		return err
	}

	var reader *bufio.Reader
	var closer io.Closer = f
	if gzipped {
		if w.filePosition != 0 {
			reader = bufio.NewReader(bytes.NewReader(nil))
		} else {
			gz, err := gzip.NewReader(br)
			if err != nil {
				f.Close()
				return err
			}
			reader = bufio.NewReader(gz)
			closer = multiCloser{gz, f}
		}
	} else {
		if _, err := f.Seek(w.filePosition, io.SeekStart); err != nil {
			f.Close()
			return err
		}
		reader = bufio.NewReader(f)
	}

	if w.closer != nil {
		w.closer.Close()
	}
	w.reader = reader
	w.closer = closer
	w.dev = dev
	w.inode = inode
	w.Path = path
	return nil
}

func (w *FileWatcher) SetFindable(f bool) { w.findable = f }
func (w *FileWatcher) Findable() bool     { return w.findable }
func (w *FileWatcher) SetDead()           { w.dead = true }
func (w *FileWatcher) Dead() bool         { return w.dead }
func (w *FileWatcher) FilePosition() int64 { return w.filePosition }
func (w *FileWatcher) LastReadSuccess() time.Time { return w.lastReadSuccess }
func (w *FileWatcher) DevInode() (uint64, uint64)  { return w.dev, w.inode }

func (w *FileWatcher) Close() error {
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}

// ReadLine attempts to read a new line from the file. Some(bytes) is a
// single line with its trailing newline stripped; None means no complete
// line is currently available but the file is still live. A NotFound I/O
// error transitions the watcher to Dead.
func (w *FileWatcher) ReadLine() ([]byte, error) {
	w.lastReadAttempt = time.Now()

	n, err := readUntilWithMaxSize(w.reader, &w.filePosition, '\n', &w.buf, w.maxLineBytes)
	if err != nil {
		if os.IsNotExist(err) {
			w.SetDead()
		}
		return nil, err
	}
	if n != nil {
		w.lastReadSuccess = time.Now()
		line := w.buf
		w.buf = nil
		return line, nil
	}

	if !w.Findable() {
		w.SetDead()
		line := w.buf
		w.buf = nil
		return line, nil
	}
	return nil, nil
}

// ShouldRead reports whether this watcher is due for a read attempt: true if
// the last successful read was within a short fixed window, or if no read
// has been attempted within that same window.
func (w *FileWatcher) ShouldRead() bool {
	const window = 10 * time.Second
	return time.Since(w.lastReadSuccess) < window || time.Since(w.lastReadAttempt) > window
}

// readUntilWithMaxSize reads from r up to and including delim, appending the
// bytes before delim to buf. After more than maxSize bytes are read as part
// of a single line, the rest of that line up to delim is discarded, buf is
// cleared, and reading continues with the following line in the same call.
// Returns (non-nil, nil) once a full line has been accumulated into buf (the
// delimiter is consumed but not copied), (nil, nil) on a clean EOF with no
// delimiter seen yet, or a non-nil error.
func readUntilWithMaxSize(r *bufio.Reader, pos *int64, delim byte, buf *[]byte, maxSize int) (*int, error) {
	totalRead := 0
	discarding := false

	for {
		if r.Buffered() == 0 {
			// Force at least one byte to be buffered so Peek below has
			// something to look at; Peek never blocks once data is buffered.
			if _, err := r.Peek(1); err != nil {
				if err == io.EOF {
					return nil, nil
				}
				return nil, err
			}
		}
		available, err := r.Peek(r.Buffered())
		if err != nil && err != bufio.ErrBufferFull {
			return nil, err
		}

		idx := bytes.IndexByte(available, delim)
		var used int
		var done bool
		if idx >= 0 {
			if !discarding {
				*buf = append(*buf, available[:idx]...)
			}
			used = idx + 1
			done = true
		} else {
			if !discarding {
				*buf = append(*buf, available...)
			}
			used = len(available)
			done = false
		}

		if _, err := r.Discard(used); err != nil {
			return nil, err
		}
		*pos += int64(used)
		totalRead += used

		if !discarding && len(*buf) > maxSize {
			cclog.Warnf("[FILEWATCHER]> line exceeds max_line_bytes, discarding")
			discarding = true
		}

		if done {
			if !discarding {
				n := totalRead
				return &n, nil
			}
			discarding = false
			*buf = (*buf)[:0]
			continue
		}

		if used == 0 {
			return nil, nil
		}
	}
}
