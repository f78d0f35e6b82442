// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package checkpoint

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	mattnsqlite3 "github.com/mattn/go-sqlite3"
	"github.com/qustavo/sqlhooks/v2"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
)

//go:embed migrations/sqlite3/*.sql
var sqliteMigrations embed.FS

// queryLogHooks satisfies sqlhooks.Hooks, logging every query and its
// elapsed time the same way a sqlhooks-wrapped driver typically does.
type queryLogHooks struct{}

func (queryLogHooks) Before(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	return context.WithValue(ctx, sqliteHookTimestampKey{}, time.Now()), nil
}

func (queryLogHooks) After(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	if begin, ok := ctx.Value(sqliteHookTimestampKey{}).(time.Time); ok {
		cclog.Debugf("[CHECKPOINT.SQLITE]> %q took %s", query, time.Since(begin))
	}
	return ctx, nil
}

type sqliteHookTimestampKey struct{}

// driverOnce guards sql.Register: calling it twice with the same driver
// name panics, but tests may construct more than one SQLiteCheckpointer in
// the same process.
var driverOnce sync.Once

const sqliteDriverName = "sqlite3_checkpoint_hooks"

// SQLiteCheckpointer is the sqlite-backed alternative to Checkpointer's
// default flat-file storage, selected via CheckpointConfig.Backend ==
// "sqlite". It reuses the same View the file backend uses for its
// in-memory dirty-tracking, only WriteCheckpoints/ReadCheckpoints differ.
type SQLiteCheckpointer struct {
	View *View

	db        *sqlx.DB
	stmtCache *sq.StmtCache
}

// NewSQLite opens (creating if necessary) the sqlite database at path,
// wraps the driver with sqlhooks for query logging, and migrates the
// schema to its current version, following the same
// sql.Register(sqlhooks.Wrap(...)) + sqlx.Open + golang-migrate iofs wiring
// a sqlx/squirrel-based sqlite backend typically uses.
func NewSQLite(path string) (*SQLiteCheckpointer, error) {
	driverOnce.Do(func() {
		sql.Register(sqliteDriverName, sqlhooks.Wrap(&mattnsqlite3.SQLiteDriver{}, queryLogHooks{}))
	})

	db, err := sqlx.Open(sqliteDriverName, fmt.Sprintf("%s?_foreign_keys=on", path))
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open sqlite database: %w", err)
	}
	// sqlite does not multiplex writers; a single connection avoids lock
	// contention between concurrent checkpoint writers.
	db.SetMaxOpenConns(1)

	if err := migrateSQLiteSchema(db.DB); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteCheckpointer{
		View:      NewView(),
		db:        db,
		stmtCache: sq.NewStmtCache(db.DB),
	}, nil
}

func migrateSQLiteSchema(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("checkpoint: sqlite migration driver: %w", err)
	}
	source, err := iofs.New(sqliteMigrations, "migrations/sqlite3")
	if err != nil {
		return fmt.Errorf("checkpoint: migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("checkpoint: migration setup: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("checkpoint: applying migrations: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (c *SQLiteCheckpointer) Close() error {
	return c.db.Close()
}

// CheckpointView exposes the position/liveness map backing this
// checkpointer, matching Checkpointer's CheckpointView so both backends
// satisfy filesource.CheckpointStore.
func (c *SQLiteCheckpointer) CheckpointView() *View {
	return c.View
}

type sqliteRecord struct {
	Fingerprint string        `db:"fingerprint"`
	Position    int64         `db:"position"`
	ModifiedAt  sql.NullInt64 `db:"modified_at"`
}

// WriteCheckpoints flushes all dirty state to the checkpoints table inside
// one transaction: an upsert per live entry, a delete per tombstoned one.
func (c *SQLiteCheckpointer) WriteCheckpoints() (int, error) {
	dirty := c.View.snapshotDirty()
	if len(dirty) == 0 {
		return 0, nil
	}

	tx, err := c.db.Beginx()
	if err != nil {
		return 0, fmt.Errorf("checkpoint: begin transaction: %w", err)
	}

	for fp, e := range dirty {
		if !e.alive {
			if _, err := sq.Delete("checkpoints").Where(sq.Eq{"fingerprint": fp}).RunWith(tx).Exec(); err != nil {
				tx.Rollback()
				return 0, fmt.Errorf("checkpoint: delete %q: %w", fp, err)
			}
			continue
		}

		var modAt any
		if e.hasMod {
			modAt = e.modTime.Unix()
		}
		_, err := sq.Insert("checkpoints").
			Columns("fingerprint", "position", "modified_at").
			Values(fp, e.position, modAt).
			Suffix("ON CONFLICT(fingerprint) DO UPDATE SET position=excluded.position, modified_at=excluded.modified_at").
			RunWith(tx).Exec()
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("checkpoint: upsert %q: %w", fp, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("checkpoint: commit: %w", err)
	}

	c.View.clearDirty(dirty)
	return len(dirty), nil
}

// ReadCheckpoints loads persisted state from the checkpoints table;
// entries older than ignoreBefore are dropped, mirroring the file
// backend's semantics.
func (c *SQLiteCheckpointer) ReadCheckpoints(ignoreBefore *time.Time) error {
	var records []sqliteRecord
	if err := c.db.Select(&records, "SELECT fingerprint, position, modified_at FROM checkpoints"); err != nil {
		return fmt.Errorf("checkpoint: select: %w", err)
	}

	c.View.mu.Lock()
	defer c.View.mu.Unlock()
	for _, r := range records {
		if ignoreBefore != nil && r.ModifiedAt.Valid {
			if time.Unix(r.ModifiedAt.Int64, 0).Before(*ignoreBefore) {
				continue
			}
		}
		e := &entry{position: r.Position, alive: true}
		if r.ModifiedAt.Valid {
			e.modTime = time.Unix(r.ModifiedAt.Int64, 0)
			e.hasMod = true
		}
		c.View.entries[r.Fingerprint] = e
	}
	return nil
}

// RunWriter spawns the periodic background writer, identical in shape to
// Checkpointer.RunWriter but against the sqlite store.
func (c *SQLiteCheckpointer) RunWriter(ctx context.Context, wg *sync.WaitGroup, interval time.Duration) {
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
					cclog.Errorf("[CHECKPOINT.SQLITE]> final write failed: %s", err)
				} else {
					cclog.Infof("[CHECKPOINT.SQLITE]> final write: %d records", n)
				}
				return
			case <-ticker.C:
				start := time.Now()
				n, err := c.WriteCheckpoints()
				if err != nil {
					cclog.Errorf("[CHECKPOINT.SQLITE]> write failed: %s", err)
					continue
				}
				cclog.Debugf("[CHECKPOINT.SQLITE]> wrote %d records in %s", n, time.Since(start))
			}
		}
	}()
}
