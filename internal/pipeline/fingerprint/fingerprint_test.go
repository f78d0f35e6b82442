// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fingerprint

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	return p
}

func TestFirstLinesChecksumStable(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.log", "hello world\nsecond line\n")
	b := writeFile(t, dir, "b.log", "hello world\ndifferent second line\n")

	fp := New(Config{Strategy: FirstLinesChecksum, Lines: 1, MaxBytes: 256, MinBytes: 1})

	fa, err := fp.Fingerprint(a)
	if err != nil {
		t.Fatalf("fingerprint a: %v", err)
	}
	fb, err := fp.Fingerprint(b)
	if err != nil {
		t.Fatalf("fingerprint b: %v", err)
	}
	if fa.Hash != fb.Hash {
		t.Fatalf("expected identical first-line fingerprints, got %x vs %x", fa.Hash, fb.Hash)
	}
}

func TestFirstLinesChecksumTooSmall(t *testing.T) {
	dir := t.TempDir()
	tiny := writeFile(t, dir, "tiny.log", "x")

	fp := New(Config{Strategy: FirstLinesChecksum, Lines: 1, MaxBytes: 256, MinBytes: 100})
	_, err := fp.Fingerprint(tiny)
	if err != ErrTooSmall {
		t.Fatalf("expected ErrTooSmall, got %v", err)
	}

	// Remembered too-small path is rechecked on next call rather than
	// re-hashed; growing the file should clear it from the remembrance set.
	if err := os.WriteFile(tiny, []byte(fixtureBytes(200)), 0o644); err != nil {
		t.Fatalf("grow file: %v", err)
	}
	_, err = fp.Fingerprint(tiny)
	if err != nil {
		t.Fatalf("expected fingerprint to succeed after growth, got %v", err)
	}
}

func TestDeviceAndInodeStrategy(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.log", "content")

	fp := New(Config{Strategy: DeviceAndInode})
	f1, err := fp.Fingerprint(a)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	f2, err := fp.Fingerprint(a)
	if err != nil {
		t.Fatalf("fingerprint again: %v", err)
	}
	if f1 != f2 {
		t.Fatalf("expected stable dev/inode fingerprint, got %+v vs %+v", f1, f2)
	}
}

func fixtureBytes(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'y'
	}
	return string(b)
}
