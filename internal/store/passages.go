package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Passage is one indexed chunk of the local knowledge base.
type Passage struct {
	// Position is the passage's index in insertion order, starting at 0.
	Position int
	// Content is the chunk text returned to the generation step.
	Content string
	// Source is the file path or URL the chunk came from.
	Source string
	// Kind is the source type (pdf, text, web).
	Kind string
	// Title is a human-readable source name.
	Title string
	// ChunkIndex is the chunk's offset within its source.
	ChunkIndex int
	// Vector is the chunk embedding.
	Vector []float32
}

// AppendPassages inserts passages in a single transaction. Positions must
// not already exist.
func (s *SQLiteStore) AppendPassages(ctx context.Context, passages []Passage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: append passages: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO passages
(position, content, source, kind, title, chunk_index, vector) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: append passages: prepare: %w", err)
	}
	defer stmt.Close()

	for _, p := range passages {
		if _, err := stmt.ExecContext(ctx, p.Position, p.Content, p.Source, p.Kind, p.Title, p.ChunkIndex, encodeVector(p.Vector)); err != nil {
			return fmt.Errorf("store: append passage %d: %w", p.Position, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: append passages: commit: %w", err)
	}
	return nil
}

// Passages returns every passage ordered by position.
func (s *SQLiteStore) Passages(ctx context.Context) ([]Passage, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT position, content, source, kind, title, chunk_index, vector
FROM   passages
ORDER  BY position ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: passages: %w", err)
	}
	defer rows.Close()

	var out []Passage
	for rows.Next() {
		var p Passage
		var blob []byte
		if err := rows.Scan(&p.Position, &p.Content, &p.Source, &p.Kind, &p.Title, &p.ChunkIndex, &blob); err != nil {
			return nil, fmt.Errorf("store: passages scan: %w", err)
		}
		p.Vector = decodeVector(blob)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: passages rows: %w", err)
	}
	return out, nil
}

// Passage returns the passage at position, or [ErrNotFound].
func (s *SQLiteStore) Passage(ctx context.Context, position int) (Passage, error) {
	var p Passage
	var blob []byte
	err := s.db.QueryRowContext(ctx, `
SELECT position, content, source, kind, title, chunk_index, vector
FROM   passages WHERE position = ?`, position).
		Scan(&p.Position, &p.Content, &p.Source, &p.Kind, &p.Title, &p.ChunkIndex, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return Passage{}, fmt.Errorf("%w: passage %d", ErrNotFound, position)
	}
	if err != nil {
		return Passage{}, fmt.Errorf("store: passage %d: %w", position, err)
	}
	p.Vector = decodeVector(blob)
	return p, nil
}

// CountPassages returns the number of stored passages.
func (s *SQLiteStore) CountPassages(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM passages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count passages: %w", err)
	}
	return n, nil
}

// DeletePassages removes the whole local knowledge base.
func (s *SQLiteStore) DeletePassages(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM passages`); err != nil {
		return fmt.Errorf("store: delete passages: %w", err)
	}
	return nil
}

// encodeVector packs v as little-endian float32s.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
