package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dshills/omengrep/pkg/types"
)

// DefaultCandidateDepth is how many ranked ids each retriever contributes
// to fusion, at minimum
const DefaultCandidateDepth = 50

type opKind int

const (
	opUpsert opKind = iota
	opRetract
)

// pendingOp is a buffered write. Upserts carry their encoded blob so
// encoding failures surface at Upsert time, not at Flush.
type pendingOp struct {
	kind   opKind
	record types.BlockRecord
	blob   []byte
	id     string
}

// SQLiteStore implements Store on a single SQLite file with an FTS5 index
// for lexical retrieval and zstd-compressed token matrices for MaxSim.
type SQLiteStore struct {
	db *sql.DB

	mu      sync.Mutex
	pending []pendingOp
	reset   bool
	closed  bool
}

var _ Store = (*SQLiteStore)(nil)

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// One connection: a single writer, and ":memory:" stays one database
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	return db, nil
}

// Open opens or creates the store at dbPath and applies pending migrations.
// ":memory:" gives a private in-memory store.
func Open(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close discards unflushed writes and closes the database
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.pending = nil
	return s.db.Close()
}

// Upsert buffers a record, replacing any stored record with the same id at
// the next Flush
func (s *SQLiteStore) Upsert(ctx context.Context, record types.BlockRecord) error {
	if err := ctx.Err(); err != nil {
		return &StoreError{Op: "upsert", ID: record.ID, Err: err}
	}
	if err := record.Validate(); err != nil {
		return &StoreError{Op: "upsert", ID: record.ID, Err: err}
	}
	blob, err := encodeMatrix(record.Tokens)
	if err != nil {
		return &StoreError{Op: "upsert", ID: record.ID, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &StoreError{Op: "upsert", ID: record.ID, Err: ErrClosed}
	}
	s.pending = append(s.pending, pendingOp{kind: opUpsert, record: record, blob: blob, id: record.ID})
	return nil
}

// Retract buffers removal of a block. Retracting an unknown id is not an
// error.
func (s *SQLiteStore) Retract(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return &StoreError{Op: "retract", ID: id, Err: err}
	}
	if id == "" {
		return &StoreError{Op: "retract", Err: types.ErrEmptyBlockID}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &StoreError{Op: "retract", ID: id, Err: ErrClosed}
	}
	s.pending = append(s.pending, pendingOp{kind: opRetract, id: id})
	return nil
}

// Reset drops every buffered write and schedules a full clear for the next
// Flush
func (s *SQLiteStore) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &StoreError{Op: "reset", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &StoreError{Op: "reset", Err: ErrClosed}
	}
	s.pending = nil
	s.reset = true
	return nil
}

// Discard drops every buffered write and any scheduled reset
func (s *SQLiteStore) Discard(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &StoreError{Op: "discard", Err: ErrClosed}
	}
	s.pending, s.reset = nil, false
	return nil
}

// Flush applies buffered writes in one transaction. The buffer is emptied
// whether or not the transaction commits; on failure the database is left
// as it was before the flush.
func (s *SQLiteStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return &StoreError{Op: "flush", Err: ErrClosed}
	}
	ops, reset := s.pending, s.reset
	s.pending, s.reset = nil, false
	s.mu.Unlock()

	if len(ops) == 0 && !reset {
		return nil
	}
	if err := s.apply(ctx, ops, reset); err != nil {
		return &StoreError{Op: "flush", Err: err}
	}
	return nil
}

func (s *SQLiteStore) apply(ctx context.Context, ops []pendingOp, reset bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if reset {
		if _, err := tx.ExecContext(ctx, "DELETE FROM blocks"); err != nil {
			return fmt.Errorf("failed to clear blocks: %w", err)
		}
	}

	upsert, err := tx.PrepareContext(ctx, `
		INSERT INTO blocks (block_id, file, kind, name, start_line, end_line, text, token_count, dimension, tokens, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(block_id) DO UPDATE SET
			file = excluded.file,
			kind = excluded.kind,
			name = excluded.name,
			start_line = excluded.start_line,
			end_line = excluded.end_line,
			text = excluded.text,
			token_count = excluded.token_count,
			dimension = excluded.dimension,
			tokens = excluded.tokens,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer upsert.Close()

	retract, err := tx.PrepareContext(ctx, "DELETE FROM blocks WHERE block_id = ?")
	if err != nil {
		return fmt.Errorf("failed to prepare retract: %w", err)
	}
	defer retract.Close()

	for _, op := range ops {
		switch op.kind {
		case opUpsert:
			r := op.record
			_, err = upsert.ExecContext(ctx,
				r.ID, r.Metadata.File, string(r.Metadata.Kind), r.Metadata.Name,
				r.Metadata.StartLine, r.Metadata.EndLine, r.Text,
				r.Tokens.Rows(), r.Tokens.Dim(), op.blob)
		case opRetract:
			_, err = retract.ExecContext(ctx, op.id)
		}
		if err != nil {
			return fmt.Errorf("block %s: %w", op.id, err)
		}
	}

	return tx.Commit()
}

// SearchVector ranks blocks by MaxSim against the query token matrix
func (s *SQLiteStore) SearchVector(ctx context.Context, tokens types.Matrix, limit int, opts *SearchOptions) ([]types.SearchResult, error) {
	if tokens.Rows() == 0 {
		return nil, &StoreError{Op: "search", Err: ErrEmptyQuery}
	}
	if limit <= 0 {
		return nil, nil
	}

	sims, err := s.similarities(ctx, tokens, opts)
	if err != nil {
		return nil, &StoreError{Op: "search", Err: err}
	}

	ranked := make([]candidate, 0, len(sims))
	for id, score := range sims {
		ranked = append(ranked, candidate{id: id, score: score})
	}
	sortCandidates(ranked)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	results, err := s.materialize(ctx, ranked)
	if err != nil {
		return nil, &StoreError{Op: "search", Err: err}
	}
	return results, nil
}

// SearchHybrid fuses the FTS5 bm25 ranking with the MaxSim ranking using
// reciprocal-rank fusion. Result scores are fusion scores; MinScore is
// checked against each block's semantic similarity.
func (s *SQLiteStore) SearchHybrid(ctx context.Context, query string, tokens types.Matrix, limit int, opts *SearchOptions) ([]types.SearchResult, error) {
	if strings.TrimSpace(query) == "" && tokens.Rows() == 0 {
		return nil, &StoreError{Op: "search", Err: ErrEmptyQuery}
	}
	if limit <= 0 {
		return nil, nil
	}
	depth := max(limit*3, DefaultCandidateDepth)

	var (
		semantic []string
		sims     map[string]float64
		err      error
	)
	if tokens.Rows() > 0 {
		sims, err = s.similarities(ctx, tokens, opts)
		if err != nil {
			return nil, &StoreError{Op: "search", Err: err}
		}
		ranked := make([]candidate, 0, len(sims))
		for id, score := range sims {
			ranked = append(ranked, candidate{id: id, score: score})
		}
		sortCandidates(ranked)
		for i := 0; i < len(ranked) && i < depth; i++ {
			semantic = append(semantic, ranked[i].id)
		}
	}

	lexical, err := s.lexical(ctx, query, depth, opts)
	if err != nil {
		return nil, &StoreError{Op: "search", Err: err}
	}
	if sims != nil {
		// Lexical hits below the similarity floor were filtered out of sims
		lexical = filterIDs(lexical, func(id string) bool { _, ok := sims[id]; return ok })
	}

	fused := fuseRanks(lexical, semantic)
	if len(fused) > limit {
		fused = fused[:limit]
	}
	results, err := s.materialize(ctx, fused)
	if err != nil {
		return nil, &StoreError{Op: "search", Err: err}
	}
	return results, nil
}

// similarities scores every block passing opts. Blocks below MinScore are
// left out of the map.
func (s *SQLiteStore) similarities(ctx context.Context, query types.Matrix, opts *SearchOptions) (map[string]float64, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, "SELECT block_id, file, kind, dimension, tokens FROM blocks")
	if err != nil {
		return nil, fmt.Errorf("failed to scan blocks: %w", err)
	}
	defer rows.Close()

	minScore := 0.0
	if opts != nil {
		minScore = opts.MinScore
	}
	qdim := query.Dim()
	sims := make(map[string]float64)
	for rows.Next() {
		var (
			id   string
			meta types.BlockMetadata
			kind string
			dim  int
			blob []byte
		)
		if err := rows.Scan(&id, &meta.File, &kind, &dim, &blob); err != nil {
			return nil, err
		}
		meta.Kind = types.BlockKind(kind)
		if !opts.Match(meta) {
			continue
		}
		if dim != qdim {
			return nil, fmt.Errorf("%w: query has %d, block %s has %d", ErrDimensionMismatch, qdim, id, dim)
		}
		doc, err := decodeMatrix(blob)
		if err != nil {
			return nil, fmt.Errorf("block %s: %w", id, err)
		}
		score := maxSim(query, doc)
		if opts != nil && opts.MinScore != 0 && score < minScore {
			continue
		}
		sims[id] = score
	}
	return sims, rows.Err()
}

// lexical returns block ids matching any query term, best bm25 first
func (s *SQLiteStore) lexical(ctx context.Context, query string, depth int, opts *SearchOptions) ([]string, error) {
	expr := sanitizeFTSQuery(query)
	if expr == "" {
		return nil, nil
	}
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	// Over-fetch so filtering still leaves depth candidates in most cases
	fetch := depth
	if opts != nil {
		fetch = depth * 4
	}
	rows, err := db.QueryContext(ctx, `
		SELECT b.block_id, b.file, b.kind
		FROM blocks_fts
		JOIN blocks b ON b.id = blocks_fts.rowid
		WHERE blocks_fts MATCH ?
		ORDER BY bm25(blocks_fts), b.block_id
		LIMIT ?`, expr, fetch)
	if err != nil {
		return nil, fmt.Errorf("full-text search failed: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var (
			id   string
			meta types.BlockMetadata
			kind string
		)
		if err := rows.Scan(&id, &meta.File, &kind); err != nil {
			return nil, err
		}
		meta.Kind = types.BlockKind(kind)
		if opts.Match(meta) && len(ids) < depth {
			ids = append(ids, id)
		}
	}
	return ids, rows.Err()
}

// materialize loads text and metadata for ranked candidates, assigning
// 1-based ranks in order
func (s *SQLiteStore) materialize(ctx context.Context, ranked []candidate) ([]types.SearchResult, error) {
	if len(ranked) == 0 {
		return nil, nil
	}
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ranked)), ",")
	args := make([]any, len(ranked))
	for i, c := range ranked {
		args[i] = c.id
	}
	rows, err := db.QueryContext(ctx, `
		SELECT block_id, file, kind, name, start_line, end_line, text
		FROM blocks WHERE block_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load blocks: %w", err)
	}
	defer rows.Close()

	loaded := make(map[string]types.SearchResult, len(ranked))
	for rows.Next() {
		var (
			r    types.SearchResult
			kind string
		)
		if err := rows.Scan(&r.BlockID, &r.Metadata.File, &kind, &r.Metadata.Name,
			&r.Metadata.StartLine, &r.Metadata.EndLine, &r.Text); err != nil {
			return nil, err
		}
		r.Metadata.Kind = types.BlockKind(kind)
		loaded[r.BlockID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	results := make([]types.SearchResult, 0, len(ranked))
	for _, c := range ranked {
		r, ok := loaded[c.id]
		if !ok {
			continue
		}
		r.Score = c.score
		r.Rank = len(results) + 1
		results = append(results, r)
	}
	return results, nil
}

// get returns a stored block by id
func (s *SQLiteStore) get(ctx context.Context, id string) (*types.BlockRecord, error) {
	db, err := s.handle()
	if err != nil {
		return nil, &StoreError{Op: "get", ID: id, Err: err}
	}

	var (
		r    = types.BlockRecord{ID: id}
		kind string
		blob []byte
	)
	err = db.QueryRowContext(ctx, `
		SELECT file, kind, name, start_line, end_line, text, tokens
		FROM blocks WHERE block_id = ?`, id).Scan(
		&r.Metadata.File, &kind, &r.Metadata.Name,
		&r.Metadata.StartLine, &r.Metadata.EndLine, &r.Text, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &StoreError{Op: "get", ID: id, Err: ErrNotFound}
	}
	if err != nil {
		return nil, &StoreError{Op: "get", ID: id, Err: err}
	}
	r.Metadata.Kind = types.BlockKind(kind)
	if r.Tokens, err = decodeMatrix(blob); err != nil {
		return nil, &StoreError{Op: "get", ID: id, Err: err}
	}
	return &r, nil
}

// Stats reports stored counts and the number of buffered writes
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	db, err := s.handle()
	if err != nil {
		return nil, &StoreError{Op: "stats", Err: err}
	}

	st := &Stats{Driver: BuildMode}
	err = db.QueryRowContext(ctx,
		"SELECT COUNT(*), COUNT(DISTINCT file), COALESCE(MAX(dimension), 0) FROM blocks").
		Scan(&st.Blocks, &st.Files, &st.Dimension)
	if err != nil {
		return nil, &StoreError{Op: "stats", Err: err}
	}

	var pageCount, pageSize int64
	if err := db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		if err := db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err == nil {
			st.SizeBytes = pageCount * pageSize
		}
	}

	version, err := SchemaVersion(ctx, db)
	if err != nil {
		return nil, &StoreError{Op: "stats", Err: err}
	}
	st.SchemaVersion = version.String()

	s.mu.Lock()
	st.Pending = len(s.pending)
	s.mu.Unlock()
	return st, nil
}

func (s *SQLiteStore) handle() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.db, nil
}

func filterIDs(ids []string, keep func(string) bool) []string {
	out := ids[:0]
	for _, id := range ids {
		if keep(id) {
			out = append(out, id)
		}
	}
	return out
}
