// Package snapshot persists document saves in sqlite so a replica resumes
// from its last known state instead of re-syncing history from peers.
package snapshot

import (
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	database *sql.DB
}

// Open opens (or creates) the snapshot database at path.
func Open(path string) (*DB, error) {
	database, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := database.Exec(
		`CREATE TABLE IF NOT EXISTS stores (
    	id text not null primary key,
        content text not null
		)`,
	); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return &DB{database: database}, nil
}

func (d *DB) Close() error {
	return d.database.Close()
}

// Load returns the last saved content for id, or nil if none exists yet.
func (d *DB) Load(id string) ([]byte, error) {
	var rawContent string
	if err := d.database.QueryRow(`SELECT content FROM stores WHERE id = ?`, id).Scan(&rawContent); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(rawContent)
	if err != nil {
		return nil, fmt.Errorf("failed to decode: %w", err)
	}
	return raw, nil
}

// Save upserts the content for id. The update is guarded on the content
// actually differing so periodic backups of an unchanged document are
// write-free; it reports whether a write happened.
func (d *DB) Save(id string, raw []byte) (bool, error) {
	content := base64.StdEncoding.EncodeToString(raw)
	ins, err := d.database.Exec(
		`INSERT OR IGNORE INTO stores (id, content) VALUES (?, ?)`, id, content,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert: %w", err)
	}
	if rows, _ := ins.RowsAffected(); rows > 0 {
		return true, nil
	}
	upd, err := d.database.Exec(
		`UPDATE stores SET content = ? WHERE id = ? AND content != ?`, content, id, content,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update: %w", err)
	}
	rows, _ := upd.RowsAffected()
	return rows > 0, nil
}
