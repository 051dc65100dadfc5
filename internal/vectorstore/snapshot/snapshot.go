// Package snapshot persists a vector index as a self-describing SQLite file.
//
// Persist writes to a sibling temporary file and renames it over the
// destination, so a reader either sees the previous snapshot or the new one.
package snapshot

import (
	"context"
	"database/sql"
	"embed"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/benkoppe/sustainabotily/internal/domain"
	"github.com/benkoppe/sustainabotily/internal/vectorstore"
	"github.com/benkoppe/sustainabotily/internal/vectorstore/memory"
)

//go:embed schema.sql
var schemaFS embed.FS

// SchemaVersion is written to every snapshot and checked on load.
const SchemaVersion = 1

// Meta describes a snapshot.
type Meta struct {
	SchemaVersion int
	Dimension     int
	Metric        string
	Embedder      string
	ChunkCount    int
	CreatedAt     time.Time
	Digest        string
}

// Persist writes idx to dest. On error dest is left as it was.
// Dimension, metric and chunk count in meta are taken from idx.
func Persist(ctx context.Context, idx *memory.Index, dest string, meta Meta) (err error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp := dest + ".tmp-" + uuid.NewString()
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
			_ = os.Remove(tmp + "-journal")
		}
	}()

	db, err := sql.Open("sqlite", tmp)
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	if err := write(ctx, db, idx, meta); err != nil {
		db.Close()
		return err
	}
	if err := db.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}
	return nil
}

func write(ctx context.Context, db *sql.DB, idx *memory.Index, meta Meta) error {
	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(schema)); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	entries := idx.Entries()
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now()
	}
	kv := map[string]string{
		"schema_version": strconv.Itoa(SchemaVersion),
		"dimension":      strconv.Itoa(idx.Dimension()),
		"metric":         idx.Metric(),
		"embedder":       meta.Embedder,
		"chunk_count":    strconv.Itoa(len(entries)),
		"created_at":     meta.CreatedAt.UTC().Format(time.RFC3339),
		"digest":         meta.Digest,
	}
	for k, v := range kv {
		if _, err := tx.ExecContext(ctx, "INSERT INTO meta (key, value) VALUES (?, ?)", k, v); err != nil {
			return fmt.Errorf("failed to write meta %s: %w", k, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (position, chunk_id, document_id, ordinal, text, vector)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, e := range entries {
		if _, err := stmt.ExecContext(ctx, i, e.Chunk.ChunkID, e.Chunk.DocumentID, e.Chunk.Ordinal, e.Chunk.Text, vectorToBlob(e.Vector)); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", e.Chunk.ChunkID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot at src. expectedDim > 0 must match the stored dimension.
// A missing file is domain.ErrSnapshotMissing; anything unreadable or
// inconsistent is domain.ErrIndexCorrupt.
func Load(ctx context.Context, src string, expectedDim int) (*memory.Index, Meta, error) {
	db, meta, err := open(ctx, src)
	if err != nil {
		return nil, Meta{}, err
	}
	defer db.Close()

	if meta.Metric != vectorstore.MetricCosine {
		return nil, Meta{}, corrupt("unsupported metric %q", meta.Metric)
	}
	if expectedDim > 0 && meta.Dimension != expectedDim {
		return nil, Meta{}, corrupt("snapshot dimension %d does not match embedder dimension %d", meta.Dimension, expectedDim)
	}

	idx, err := memory.NewIndex(meta.Dimension)
	if err != nil {
		return nil, Meta{}, corrupt("%v", err)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT chunk_id, document_id, ordinal, text, vector
		FROM chunks ORDER BY position
	`)
	if err != nil {
		return nil, Meta{}, corrupt("read chunks: %v", err)
	}
	defer rows.Close()

	var (
		chunks  []domain.Chunk
		vectors [][]float32
	)
	for rows.Next() {
		var (
			c    domain.Chunk
			blob []byte
		)
		if err := rows.Scan(&c.ChunkID, &c.DocumentID, &c.Ordinal, &c.Text, &blob); err != nil {
			return nil, Meta{}, corrupt("scan chunk: %v", err)
		}
		v, err := blobToVector(blob)
		if err != nil {
			return nil, Meta{}, corrupt("chunk %s: %v", c.ChunkID, err)
		}
		if len(v) != meta.Dimension {
			return nil, Meta{}, corrupt("chunk %s has dimension %d, snapshot declares %d", c.ChunkID, len(v), meta.Dimension)
		}
		chunks = append(chunks, c)
		vectors = append(vectors, v)
	}
	if err := rows.Err(); err != nil {
		return nil, Meta{}, corrupt("read chunks: %v", err)
	}
	if len(chunks) != meta.ChunkCount {
		return nil, Meta{}, corrupt("snapshot declares %d chunks, found %d", meta.ChunkCount, len(chunks))
	}
	if err := idx.Add(chunks, vectors); err != nil {
		return nil, Meta{}, corrupt("%v", err)
	}
	return idx, meta, nil
}

// ReadMeta reads only the snapshot description.
func ReadMeta(ctx context.Context, src string) (Meta, error) {
	db, meta, err := open(ctx, src)
	if err != nil {
		return Meta{}, err
	}
	db.Close()
	return meta, nil
}

func open(ctx context.Context, src string) (*sql.DB, Meta, error) {
	info, err := os.Stat(src)
	if errors.Is(err, os.ErrNotExist) {
		return nil, Meta{}, fmt.Errorf("%s: %w", src, domain.ErrSnapshotMissing)
	}
	if err != nil {
		return nil, Meta{}, corrupt("stat %s: %v", src, err)
	}
	if info.IsDir() {
		return nil, Meta{}, corrupt("%s is a directory", src)
	}

	db, err := sql.Open("sqlite", src)
	if err != nil {
		return nil, Meta{}, corrupt("open %s: %v", src, err)
	}
	meta, err := readMeta(ctx, db)
	if err != nil {
		db.Close()
		return nil, Meta{}, err
	}
	return db, meta, nil
}

func readMeta(ctx context.Context, db *sql.DB) (Meta, error) {
	rows, err := db.QueryContext(ctx, "SELECT key, value FROM meta")
	if err != nil {
		return Meta{}, corrupt("read meta: %v", err)
	}
	defer rows.Close()

	kv := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return Meta{}, corrupt("scan meta: %v", err)
		}
		kv[k] = v
	}
	if err := rows.Err(); err != nil {
		return Meta{}, corrupt("read meta: %v", err)
	}

	var meta Meta
	ints := map[string]*int{
		"schema_version": &meta.SchemaVersion,
		"dimension":      &meta.Dimension,
		"chunk_count":    &meta.ChunkCount,
	}
	for k, dst := range ints {
		n, err := strconv.Atoi(kv[k])
		if err != nil {
			return Meta{}, corrupt("meta %s: %v", k, err)
		}
		*dst = n
	}
	if meta.SchemaVersion != SchemaVersion {
		return Meta{}, corrupt("unsupported schema version %d", meta.SchemaVersion)
	}
	if meta.Dimension <= 0 {
		return Meta{}, corrupt("invalid dimension %d", meta.Dimension)
	}
	created, err := time.Parse(time.RFC3339, kv["created_at"])
	if err != nil {
		return Meta{}, corrupt("meta created_at: %v", err)
	}
	meta.CreatedAt = created
	meta.Metric = kv["metric"]
	meta.Embedder = kv["embedder"]
	meta.Digest = kv["digest"]
	return meta, nil
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), domain.ErrIndexCorrupt)
}

func vectorToBlob(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:i*4+4], math.Float32bits(v))
	}
	return blob
}

func blobToVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("blob size %d is not a multiple of 4", len(blob))
	}
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4 : i*4+4]))
	}
	return vector, nil
}
