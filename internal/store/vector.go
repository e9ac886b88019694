package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"math"

	// Blank-imported for its registration side effect, the same pairing
	// KittClouds-Go-Machine-n's store package uses: the vec0 virtual table type is only
	// available on connections where this extension has been loaded against the
	// ncruces driver.
	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
)

// serializeFloat32 encodes a vector as vec0's expected raw little-endian float32 blob.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// deserializeFloat32 is serializeFloat32's inverse, used to recover a stored embedding
// for reuse as a query vector (Consolidate's near-duplicate merge pass).
func deserializeFloat32(buf []byte) []float32 {
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}

// VectorForMemory returns the stored embedding for memoryID, or nil if it has none yet
// (embedding is always async, so a just-written memory may briefly lack one).
func (s *Store) VectorForMemory(ctx context.Context, memoryID int64) ([]float32, error) {
	if !s.vectorIndexOK {
		return nil, nil
	}
	var blob []byte
	err := s.db.QueryRowContext(ctx, "SELECT embedding FROM memory_vectors WHERE memory_id = ?", memoryID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return deserializeFloat32(blob), nil
}

// UpsertVector writes or replaces the embedding for memoryID in the vector index.
// Called by the Embedder after a successful Embed, never inline with the write that
// created the memory, since embedding always runs asynchronously.
func (s *Store) UpsertVector(ctx context.Context, memoryID int64, embedding []float32) error {
	if !s.vectorIndexOK {
		return nil
	}
	blob := serializeFloat32(embedding)
	// SQLite does not support UPSERT on virtual tables, so replace by delete-then-insert.
	if _, err := s.db.ExecContext(ctx, "DELETE FROM memory_vectors WHERE memory_id = ?", memoryID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO memory_vectors(memory_id, embedding) VALUES (?, ?)", memoryID, blob)
	return err
}

// VectorNeighbors returns up to limit memory ids nearest to query, ordered nearest-first
// by the vec0 table's distance (its default metric, since the table declares none). Used
// by Recall's vector signal and Consolidate's near-duplicate merge pass.
type VectorNeighbor struct {
	MemoryID int64
	Distance float64
}

func (s *Store) VectorNeighbors(ctx context.Context, query []float32, limit int) ([]VectorNeighbor, error) {
	if !s.vectorIndexOK {
		return nil, nil
	}
	blob := serializeFloat32(query)
	rows, err := s.db.QueryContext(ctx, `
		SELECT memory_id, distance FROM memory_vectors
		WHERE embedding MATCH ? AND k = ?
		ORDER BY distance`, blob, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []VectorNeighbor
	for rows.Next() {
		var n VectorNeighbor
		if err := rows.Scan(&n.MemoryID, &n.Distance); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// DeleteVector removes memoryID's embedding, used when a memory is merged away by
// Consolidate's near-duplicate pass and its identity effectively dissolves into its
// primary (the row itself is only soft-tombstoned, but its own vector slot is freed).
func (s *Store) DeleteVector(ctx context.Context, memoryID int64) error {
	if !s.vectorIndexOK {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM memory_vectors WHERE memory_id = ?", memoryID)
	return err
}
