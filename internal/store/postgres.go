package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/postpilot/internal/db"
	"github.com/sells-group/postpilot/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	pgInsertPost = `INSERT INTO posts (` + postColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`
	pgGetPost    = `SELECT ` + postColumns + ` FROM posts WHERE id = $1`
	pgUpdatePost = `UPDATE posts SET content = $1, hashtags = $2, mentions = $3, quality_score = $4, status = $5,
			scheduled_for = $6, posted_at = $7, review_notes = $8, engagement_prediction = $9,
			version = version + 1, updated_at = $10
		 WHERE id = $11 AND version = $12`
	pgInsertUsage = `INSERT INTO llm_usage (` + usageColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
	pgSumCost = `SELECT COALESCE(SUM(total_cost), 0)::float8 FROM llm_usage WHERE success AND created_at >= $1`
)

// preparedStatements are prepared on each new connection. Each is registered
// under its own SQL text so plain pool calls resolve to the prepared form.
var preparedStatements = []string{pgInsertPost, pgGetPost, pgUpdatePost, pgInsertUsage, pgSumCost}

// signalUpsert describes the bulk signal import. id and processed are kept
// on conflict.
var signalUpsert = db.UpsertConfig{
	Table: "public.signals",
	Columns: []string{
		"id", "type", "source_id", "title", "summary", "url", "published_at", "upstream_relevance",
		"is_viral", "category_tags", "authors", "author_handle", "referenced_source_ids", "processed", "collected_at",
	},
	ConflictKeys: []string{"type", "source_id"},
	UpdateCols: []string{
		"title", "summary", "url", "published_at", "upstream_relevance", "is_viral",
		"category_tags", "authors", "author_handle", "referenced_source_ids",
	},
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for _, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, sql, sql); err != nil {
				return eris.Wrap(err, "postgres: prepare statement")
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS signals (
	id                    TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	type                  TEXT NOT NULL,
	source_id             TEXT NOT NULL,
	title                 TEXT NOT NULL,
	summary               TEXT NOT NULL DEFAULT '',
	url                   TEXT NOT NULL DEFAULT '',
	published_at          TIMESTAMPTZ NOT NULL,
	upstream_relevance    DOUBLE PRECISION NOT NULL DEFAULT 0,
	is_viral              BOOLEAN NOT NULL DEFAULT false,
	category_tags         JSONB NOT NULL DEFAULT '[]',
	authors               JSONB NOT NULL DEFAULT '[]',
	author_handle         TEXT NOT NULL DEFAULT '',
	referenced_source_ids JSONB NOT NULL DEFAULT '[]',
	processed             BOOLEAN NOT NULL DEFAULT false,
	collected_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (type, source_id)
);

CREATE TABLE IF NOT EXISTS posts (
	id                    TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	content               TEXT NOT NULL,
	hashtags              JSONB NOT NULL DEFAULT '[]',
	mentions              JSONB NOT NULL DEFAULT '[]',
	quality_score         DOUBLE PRECISION NOT NULL DEFAULT 0,
	status                TEXT NOT NULL DEFAULT 'draft',
	scheduled_for         TIMESTAMPTZ,
	posted_at             TIMESTAMPTZ,
	review_notes          TEXT NOT NULL DEFAULT '',
	paper_source_id       TEXT NOT NULL DEFAULT '',
	discussion_source_ids JSONB NOT NULL DEFAULT '[]',
	content_type          TEXT NOT NULL,
	engagement_prediction DOUBLE PRECISION NOT NULL DEFAULT 0,
	model_name            TEXT NOT NULL DEFAULT '',
	version               INTEGER NOT NULL DEFAULT 1,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS llm_usage (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	model_name    TEXT NOT NULL,
	provider      TEXT NOT NULL DEFAULT '',
	input_tokens  INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens  INTEGER NOT NULL DEFAULT 0,
	input_cost    DOUBLE PRECISION NOT NULL DEFAULT 0,
	output_cost   DOUBLE PRECISION NOT NULL DEFAULT 0,
	total_cost    DOUBLE PRECISION NOT NULL DEFAULT 0,
	request_type  TEXT NOT NULL DEFAULT '',
	component     TEXT NOT NULL DEFAULT '',
	latency_ms    BIGINT NOT NULL DEFAULT 0,
	success       BOOLEAN NOT NULL DEFAULT true,
	error_message TEXT NOT NULL DEFAULT '',
	error_type    TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_signals_published_at ON signals(published_at);
CREATE INDEX IF NOT EXISTS idx_signals_source_id ON signals(source_id);
CREATE INDEX IF NOT EXISTS idx_posts_status ON posts(status);
CREATE INDEX IF NOT EXISTS idx_posts_created_at ON posts(created_at);
CREATE INDEX IF NOT EXISTS idx_posts_scheduled_for ON posts(scheduled_for) WHERE posted_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_llm_usage_created_at ON llm_usage(created_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return dbErr(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return dbErr(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// UpsertSignals bulk-loads signals through a temp table keyed by (type, source_id).
func (s *PostgresStore) UpsertSignals(ctx context.Context, signals []model.Signal) (int, error) {
	if len(signals) == 0 {
		return 0, nil
	}
	if err := prepareSignals(signals, time.Now().UTC(), uuid.NewString); err != nil {
		return 0, err
	}

	rows := make([][]any, 0, len(signals))
	for _, sig := range signals {
		tags, authors, refs, err := marshalSignalLists(sig)
		if err != nil {
			return 0, err
		}
		rows = append(rows, []any{
			sig.ID, string(sig.Type), sig.SourceID, sig.Title, sig.Summary, sig.URL,
			sig.PublishedAt.UTC(), sig.UpstreamRelevance, sig.IsViral,
			[]byte(tags), []byte(authors), sig.AuthorHandle, []byte(refs), sig.Processed, sig.CollectedAt.UTC(),
		})
	}

	n, err := db.BulkUpsert(ctx, s.pool, signalUpsert, rows)
	if err != nil {
		return 0, dbErr(err, "postgres: upsert signals")
	}
	return int(n), nil
}

// RecentSignals returns unprocessed signals published at or after since.
func (s *PostgresStore) RecentSignals(ctx context.Context, since time.Time) ([]model.Signal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+signalColumns+` FROM signals
		 WHERE published_at >= $1 AND NOT processed
		 ORDER BY published_at DESC, source_id`,
		since.UTC(),
	)
	if err != nil {
		return nil, dbErr(err, "postgres: recent signals")
	}
	defer rows.Close()

	var out []model.Signal
	for rows.Next() {
		var sig model.Signal
		var tags, authors, refs []byte
		if err := rows.Scan(&sig.ID, &sig.Type, &sig.SourceID, &sig.Title, &sig.Summary, &sig.URL,
			&sig.PublishedAt, &sig.UpstreamRelevance, &sig.IsViral, &tags, &authors,
			&sig.AuthorHandle, &refs, &sig.Processed, &sig.CollectedAt); err != nil {
			return nil, dbErr(err, "postgres: scan signal")
		}
		if err := unmarshalJSONLists(map[*[]string][]byte{
			&sig.CategoryTags:        tags,
			&sig.Authors:             authors,
			&sig.ReferencedSourceIDs: refs,
		}); err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, dbErr(rows.Err(), "postgres: recent signals iterate")
}

func (s *PostgresStore) MarkSignalsProcessed(ctx context.Context, sourceIDs []string) error {
	if len(sourceIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE signals SET processed = true WHERE source_id = ANY($1)`,
		sourceIDs,
	)
	return dbErr(err, "postgres: mark signals processed")
}

func (s *PostgresStore) CreatePost(ctx context.Context, p *model.GeneratedPost) error {
	preparePost(p, time.Now().UTC(), uuid.NewString)

	hashtags, mentions, discussions, err := marshalPostLists(p)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, pgInsertPost,
		p.ID, p.Content, []byte(hashtags), []byte(mentions), p.QualityScore, string(p.Status),
		p.ScheduledFor, p.PostedAt, p.ReviewNotes, p.PaperSourceID,
		[]byte(discussions), string(p.ContentType), p.EngagementPrediction, p.ModelName,
		p.Version, p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
	)
	return dbErr(err, "postgres: insert post %s", p.ID)
}

func (s *PostgresStore) GetPost(ctx context.Context, id string) (*model.GeneratedPost, error) {
	p, err := scanPgPost(s.pool.QueryRow(ctx, pgGetPost, id))
	if eris.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "post %s", id)
	}
	return p, err
}

// UpdatePost writes every mutable field when the stored version matches
// p.Version, then advances p.Version.
func (s *PostgresStore) UpdatePost(ctx context.Context, p *model.GeneratedPost) error {
	hashtags, mentions, _, err := marshalPostLists(p)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, pgUpdatePost,
		p.Content, []byte(hashtags), []byte(mentions), p.QualityScore, string(p.Status),
		p.ScheduledFor, p.PostedAt, p.ReviewNotes, p.EngagementPrediction,
		now, p.ID, p.Version,
	)
	if err != nil {
		return dbErr(err, "postgres: update post %s", p.ID)
	}
	if tag.RowsAffected() == 0 {
		var one int
		err := s.pool.QueryRow(ctx, `SELECT 1 FROM posts WHERE id = $1`, p.ID).Scan(&one)
		if eris.Is(err, pgx.ErrNoRows) {
			return eris.Wrapf(ErrNotFound, "post %s", p.ID)
		}
		if err != nil {
			return dbErr(err, "postgres: check post %s", p.ID)
		}
		return eris.Wrapf(ErrStaleWrite, "post %s", p.ID)
	}
	p.Version++
	p.UpdatedAt = now
	return nil
}

func (s *PostgresStore) ListPosts(ctx context.Context, filter PostFilter) ([]model.GeneratedPost, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE true`
	args := []any{}
	argIdx := 1

	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		query += fmt.Sprintf(` AND status = ANY($%d)`, argIdx)
		args = append(args, statuses)
		argIdx++
	}
	if !filter.CreatedAfter.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, filter.CreatedAfter.UTC())
		argIdx++
	}
	if filter.Scheduled {
		query += ` AND scheduled_for IS NOT NULL AND posted_at IS NULL ORDER BY scheduled_for ASC`
	} else {
		query += ` ORDER BY created_at DESC`
	}
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, filter.Limit)
		argIdx++
		if filter.Offset > 0 {
			query += fmt.Sprintf(` OFFSET $%d`, argIdx)
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, dbErr(err, "postgres: list posts")
	}
	defer rows.Close()

	var posts []model.GeneratedPost
	for rows.Next() {
		p, err := scanPgPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, *p)
	}
	return posts, dbErr(rows.Err(), "postgres: list posts iterate")
}

func (s *PostgresStore) InsertUsage(ctx context.Context, rec *model.UsageRecord) error {
	prepareUsage(rec, time.Now().UTC(), uuid.NewString)
	_, err := s.pool.Exec(ctx, pgInsertUsage,
		rec.ID, rec.ModelName, rec.Provider, rec.InputTokens, rec.OutputTokens, rec.TotalTokens,
		rec.InputCost, rec.OutputCost, rec.TotalCost, rec.RequestType, rec.Component,
		rec.LatencyMS, rec.Success, rec.ErrorMessage, rec.ErrorType, rec.CreatedAt.UTC(),
	)
	return dbErr(err, "postgres: insert usage %s", rec.ModelName)
}

func (s *PostgresStore) ListUsage(ctx context.Context, since time.Time) ([]model.UsageRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+usageColumns+` FROM llm_usage WHERE created_at >= $1 ORDER BY created_at`,
		since.UTC(),
	)
	if err != nil {
		return nil, dbErr(err, "postgres: list usage")
	}
	defer rows.Close()

	var out []model.UsageRecord
	for rows.Next() {
		var r model.UsageRecord
		if err := rows.Scan(&r.ID, &r.ModelName, &r.Provider, &r.InputTokens, &r.OutputTokens,
			&r.TotalTokens, &r.InputCost, &r.OutputCost, &r.TotalCost, &r.RequestType, &r.Component,
			&r.LatencyMS, &r.Success, &r.ErrorMessage, &r.ErrorType, &r.CreatedAt); err != nil {
			return nil, dbErr(err, "postgres: scan usage")
		}
		out = append(out, r)
	}
	return out, dbErr(rows.Err(), "postgres: list usage iterate")
}

// SumCost totals successful calls made at or after since.
func (s *PostgresStore) SumCost(ctx context.Context, since time.Time) (float64, error) {
	var total float64
	if err := s.pool.QueryRow(ctx, pgSumCost, since.UTC()).Scan(&total); err != nil {
		return 0, dbErr(err, "postgres: sum cost")
	}
	return total, nil
}

func scanPgPost(row pgx.Row) (*model.GeneratedPost, error) {
	var p model.GeneratedPost
	var hashtags, mentions, discussions []byte

	err := row.Scan(&p.ID, &p.Content, &hashtags, &mentions, &p.QualityScore, &p.Status,
		&p.ScheduledFor, &p.PostedAt, &p.ReviewNotes, &p.PaperSourceID, &discussions, &p.ContentType,
		&p.EngagementPrediction, &p.ModelName, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if eris.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, dbErr(err, "postgres: scan post")
	}
	if err := unmarshalJSONLists(map[*[]string][]byte{
		&p.Hashtags:            hashtags,
		&p.Mentions:            mentions,
		&p.DiscussionSourceIDs: discussions,
	}); err != nil {
		return nil, err
	}
	return &p, nil
}

func unmarshalJSONLists(lists map[*[]string][]byte) error {
	for dst, raw := range lists {
		if len(raw) == 0 {
			continue
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return eris.Wrap(err, "postgres: unmarshal list")
		}
		if len(*dst) == 0 {
			*dst = nil
		}
	}
	return nil
}
