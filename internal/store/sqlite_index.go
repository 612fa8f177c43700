package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/felixgeelhaar/diario/internal/fault"
	"github.com/felixgeelhaar/diario/internal/index"
)

// indexFormat is bumped when the chunks layout changes.
const indexFormat = "1"

// ErrCorruptIndex marks persisted index rows that cannot be decoded.
var ErrCorruptIndex = fault.Define(fault.ErrIntegrity, "corrupt persisted index")

// SaveSnapshot rewrites the persisted index in a single transaction.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *index.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin index save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks`); err != nil {
		return fmt.Errorf("failed to clear chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO chunks (id, source_date, seq, start_offset, end_offset, text, vector) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range snap.Records {
		blob, err := encodeVector(r.Vector)
		if err != nil {
			return err
		}
		c := r.Chunk
		if _, err := stmt.ExecContext(ctx, c.ID, c.SourceDate, c.Seq, c.Start, c.End, c.Text, blob); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", c.ID, err)
		}
	}

	meta := map[string]string{
		"model":     snap.Model,
		"dimension": strconv.Itoa(snap.Dimension),
		"format":    indexFormat,
	}
	for k, v := range meta {
		_, err := tx.ExecContext(ctx, `INSERT INTO index_meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`, k, v)
		if err != nil {
			return fmt.Errorf("failed to write index meta: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit index save: %w", err)
	}
	return nil
}

// LoadSnapshot reads the persisted index. It returns nil, nil when no index
// was ever saved.
func (s *SQLiteStore) LoadSnapshot(ctx context.Context) (*index.Snapshot, error) {
	meta, err := s.indexMeta(ctx)
	if err != nil {
		return nil, err
	}
	if len(meta) == 0 {
		return nil, nil
	}
	if meta["format"] != indexFormat {
		return nil, fmt.Errorf("%w: unsupported format %q", ErrCorruptIndex, meta["format"])
	}
	dim, err := strconv.Atoi(meta["dimension"])
	if err != nil || dim < 0 {
		return nil, fmt.Errorf("%w: bad dimension %q", ErrCorruptIndex, meta["dimension"])
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, source_date, seq, start_offset, end_offset, text, vector FROM chunks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunks: %w", err)
	}
	defer rows.Close()

	snap := &index.Snapshot{Model: meta["model"], Dimension: dim}
	for rows.Next() {
		var c index.Chunk
		var blob []byte
		if err := rows.Scan(&c.ID, &c.SourceDate, &c.Seq, &c.Start, &c.End, &c.Text, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		vec, err := decodeVector(blob, dim)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", c.ID, err)
		}
		snap.Records = append(snap.Records, index.Record{Chunk: c, Vector: vec})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read chunks: %w", err)
	}
	return snap, nil
}

func (s *SQLiteStore) indexMeta(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM index_meta`)
	if err != nil {
		return nil, fmt.Errorf("failed to read index meta: %w", err)
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		meta[k] = v
	}
	return meta, rows.Err()
}

func encodeVector(vec []float32) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, vec); err != nil {
		return nil, fmt.Errorf("failed to encode vector: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeVector(blob []byte, dim int) ([]float32, error) {
	if len(blob)%4 != 0 || (dim > 0 && len(blob)/4 != dim) {
		return nil, fmt.Errorf("%w: vector blob of %d bytes for dimension %d", ErrCorruptIndex, len(blob), dim)
	}
	vec := make([]float32, len(blob)/4)
	if err := binary.Read(bytes.NewReader(blob), binary.LittleEndian, vec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
	}
	return vec, nil
}

var _ index.Persister = (*SQLiteStore)(nil)

