// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package checkpoint

import (
	"path/filepath"
	"testing"
)

func TestSQLiteWriteAndReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.db")

	c, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer c.Close()

	c.View.Update("fp1", 100)
	n, err := c.WriteCheckpoints()
	if err != nil || n != 1 {
		t.Fatalf("write: n=%d err=%v", n, err)
	}

	c2, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite (reopen): %v", err)
	}
	defer c2.Close()

	if err := c2.ReadCheckpoints(nil); err != nil {
		t.Fatalf("read back: %v", err)
	}
	pos, ok := c2.View.Get("fp1")
	if !ok || pos != 100 {
		t.Fatalf("expected fp1=100, got %d ok=%v", pos, ok)
	}
}

func TestSQLiteUpsertUpdatesExistingRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.db")
	c, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer c.Close()

	c.View.Update("fp1", 10)
	if _, err := c.WriteCheckpoints(); err != nil {
		t.Fatalf("first write: %v", err)
	}

	c.View.Update("fp1", 20)
	if _, err := c.WriteCheckpoints(); err != nil {
		t.Fatalf("second write: %v", err)
	}

	c2, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite (reopen): %v", err)
	}
	defer c2.Close()
	if err := c2.ReadCheckpoints(nil); err != nil {
		t.Fatalf("read back: %v", err)
	}
	if pos, ok := c2.View.Get("fp1"); !ok || pos != 20 {
		t.Fatalf("expected upserted position 20, got %d ok=%v", pos, ok)
	}
}

func TestSQLiteTombstoneDeletesRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.db")
	c, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer c.Close()

	c.View.Update("fp1", 5)
	if _, err := c.WriteCheckpoints(); err != nil {
		t.Fatalf("write: %v", err)
	}

	c.View.SetDead("fp1")
	if _, err := c.WriteCheckpoints(); err != nil {
		t.Fatalf("tombstone write: %v", err)
	}

	c2, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite (reopen): %v", err)
	}
	defer c2.Close()
	if err := c2.ReadCheckpoints(nil); err != nil {
		t.Fatalf("read back: %v", err)
	}
	if _, ok := c2.View.Get("fp1"); ok {
		t.Fatalf("expected fp1 to be deleted after tombstone write")
	}
}
