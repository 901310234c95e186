package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/postpilot/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS signals (
	id                    TEXT PRIMARY KEY,
	type                  TEXT NOT NULL,
	source_id             TEXT NOT NULL,
	title                 TEXT NOT NULL,
	summary               TEXT NOT NULL DEFAULT '',
	url                   TEXT NOT NULL DEFAULT '',
	published_at          DATETIME NOT NULL,
	upstream_relevance    REAL NOT NULL DEFAULT 0,
	is_viral              INTEGER NOT NULL DEFAULT 0,
	category_tags         TEXT NOT NULL DEFAULT '[]',
	authors               TEXT NOT NULL DEFAULT '[]',
	author_handle         TEXT NOT NULL DEFAULT '',
	referenced_source_ids TEXT NOT NULL DEFAULT '[]',
	processed             INTEGER NOT NULL DEFAULT 0,
	collected_at          DATETIME NOT NULL,
	UNIQUE (type, source_id)
);

CREATE TABLE IF NOT EXISTS posts (
	id                    TEXT PRIMARY KEY,
	content               TEXT NOT NULL,
	hashtags              TEXT NOT NULL DEFAULT '[]',
	mentions              TEXT NOT NULL DEFAULT '[]',
	quality_score         REAL NOT NULL DEFAULT 0,
	status                TEXT NOT NULL DEFAULT 'draft',
	scheduled_for         DATETIME,
	posted_at             DATETIME,
	review_notes          TEXT NOT NULL DEFAULT '',
	paper_source_id       TEXT NOT NULL DEFAULT '',
	discussion_source_ids TEXT NOT NULL DEFAULT '[]',
	content_type          TEXT NOT NULL,
	engagement_prediction REAL NOT NULL DEFAULT 0,
	model_name            TEXT NOT NULL DEFAULT '',
	version               INTEGER NOT NULL DEFAULT 1,
	created_at            DATETIME NOT NULL,
	updated_at            DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS llm_usage (
	id            TEXT PRIMARY KEY,
	model_name    TEXT NOT NULL,
	provider      TEXT NOT NULL DEFAULT '',
	input_tokens  INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens  INTEGER NOT NULL DEFAULT 0,
	input_cost    REAL NOT NULL DEFAULT 0,
	output_cost   REAL NOT NULL DEFAULT 0,
	total_cost    REAL NOT NULL DEFAULT 0,
	request_type  TEXT NOT NULL DEFAULT '',
	component     TEXT NOT NULL DEFAULT '',
	latency_ms    INTEGER NOT NULL DEFAULT 0,
	success       INTEGER NOT NULL DEFAULT 1,
	error_message TEXT NOT NULL DEFAULT '',
	error_type    TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_signals_published_at ON signals(published_at);
CREATE INDEX IF NOT EXISTS idx_signals_source_id ON signals(source_id);
CREATE INDEX IF NOT EXISTS idx_posts_status ON posts(status);
CREATE INDEX IF NOT EXISTS idx_posts_created_at ON posts(created_at);
CREATE INDEX IF NOT EXISTS idx_posts_scheduled_for ON posts(scheduled_for);
CREATE INDEX IF NOT EXISTS idx_llm_usage_created_at ON llm_usage(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return dbErr(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const signalColumns = `id, type, source_id, title, summary, url, published_at, upstream_relevance, is_viral,
	category_tags, authors, author_handle, referenced_source_ids, processed, collected_at`

// UpsertSignals inserts signals keyed by (type, source_id). Existing rows keep
// their id and processed flag.
func (s *SQLiteStore) UpsertSignals(ctx context.Context, signals []model.Signal) (int, error) {
	if len(signals) == 0 {
		return 0, nil
	}
	if err := prepareSignals(signals, time.Now().UTC(), uuid.NewString); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, dbErr(err, "sqlite: begin upsert signals")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO signals (`+signalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (type, source_id) DO UPDATE SET
			title = excluded.title,
			summary = excluded.summary,
			url = excluded.url,
			published_at = excluded.published_at,
			upstream_relevance = excluded.upstream_relevance,
			is_viral = excluded.is_viral,
			category_tags = excluded.category_tags,
			authors = excluded.authors,
			author_handle = excluded.author_handle,
			referenced_source_ids = excluded.referenced_source_ids`)
	if err != nil {
		return 0, dbErr(err, "sqlite: prepare upsert signals")
	}
	defer stmt.Close() //nolint:errcheck

	for _, sig := range signals {
		tags, authors, refs, err := marshalSignalLists(sig)
		if err != nil {
			return 0, err
		}
		if _, err := stmt.ExecContext(ctx,
			sig.ID, string(sig.Type), sig.SourceID, sig.Title, sig.Summary, sig.URL,
			sig.PublishedAt.UTC(), sig.UpstreamRelevance, sig.IsViral,
			tags, authors, sig.AuthorHandle, refs, sig.Processed, sig.CollectedAt.UTC(),
		); err != nil {
			return 0, dbErr(err, "sqlite: upsert signal %s", sig.SourceID)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, dbErr(err, "sqlite: commit upsert signals")
	}
	return len(signals), nil
}

// RecentSignals returns unprocessed signals published at or after since.
func (s *SQLiteStore) RecentSignals(ctx context.Context, since time.Time) ([]model.Signal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+signalColumns+` FROM signals
		 WHERE published_at >= ? AND processed = 0
		 ORDER BY published_at DESC, source_id`,
		since.UTC(),
	)
	if err != nil {
		return nil, dbErr(err, "sqlite: recent signals")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sig)
	}
	return out, dbErr(rows.Err(), "sqlite: recent signals iterate")
}

func (s *SQLiteStore) MarkSignalsProcessed(ctx context.Context, sourceIDs []string) error {
	if len(sourceIDs) == 0 {
		return nil
	}
	args := make([]any, len(sourceIDs))
	for i, id := range sourceIDs {
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE signals SET processed = 1 WHERE source_id IN (`+placeholders(len(sourceIDs))+`)`,
		args...,
	)
	return dbErr(err, "sqlite: mark signals processed")
}

const postColumns = `id, content, hashtags, mentions, quality_score, status, scheduled_for, posted_at,
	review_notes, paper_source_id, discussion_source_ids, content_type, engagement_prediction,
	model_name, version, created_at, updated_at`

func (s *SQLiteStore) CreatePost(ctx context.Context, p *model.GeneratedPost) error {
	preparePost(p, time.Now().UTC(), uuid.NewString)

	hashtags, mentions, discussions, err := marshalPostLists(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO posts (`+postColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Content, hashtags, mentions, p.QualityScore, string(p.Status),
		nullTime(p.ScheduledFor), nullTime(p.PostedAt), p.ReviewNotes, p.PaperSourceID,
		discussions, string(p.ContentType), p.EngagementPrediction, p.ModelName,
		p.Version, p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
	)
	return dbErr(err, "sqlite: insert post %s", p.ID)
}

func (s *SQLiteStore) GetPost(ctx context.Context, id string) (*model.GeneratedPost, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id = ?`, id)
	p, err := scanPost(row)
	if eris.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "post %s", id)
	}
	return p, err
}

// UpdatePost writes every mutable field when the stored version matches
// p.Version, then advances p.Version.
func (s *SQLiteStore) UpdatePost(ctx context.Context, p *model.GeneratedPost) error {
	hashtags, mentions, _, err := marshalPostLists(p)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE posts SET content = ?, hashtags = ?, mentions = ?, quality_score = ?, status = ?,
			scheduled_for = ?, posted_at = ?, review_notes = ?, engagement_prediction = ?,
			version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		p.Content, hashtags, mentions, p.QualityScore, string(p.Status),
		nullTime(p.ScheduledFor), nullTime(p.PostedAt), p.ReviewNotes, p.EngagementPrediction,
		now, p.ID, p.Version,
	)
	if err != nil {
		return dbErr(err, "sqlite: update post %s", p.ID)
	}
	if err := s.checkVersioned(ctx, res, p.ID); err != nil {
		return err
	}
	p.Version++
	p.UpdatedAt = now
	return nil
}

// checkVersioned distinguishes a missing post from a stale version when an
// update touched no rows.
func (s *SQLiteStore) checkVersioned(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return dbErr(err, "sqlite: rows affected")
	}
	if n > 0 {
		return nil
	}
	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM posts WHERE id = ?`, id).Scan(&one)
	if eris.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "post %s", id)
	}
	if err != nil {
		return dbErr(err, "sqlite: check post %s", id)
	}
	return eris.Wrapf(ErrStaleWrite, "post %s", id)
}

func (s *SQLiteStore) ListPosts(ctx context.Context, filter PostFilter) ([]model.GeneratedPost, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE 1=1`
	var args []any

	if len(filter.Statuses) > 0 {
		query += ` AND status IN (` + placeholders(len(filter.Statuses)) + `)`
		for _, st := range filter.Statuses {
			args = append(args, string(st))
		}
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.CreatedAfter.UTC())
	}
	if filter.Scheduled {
		query += ` AND scheduled_for IS NOT NULL AND posted_at IS NULL ORDER BY scheduled_for ASC`
	} else {
		query += ` ORDER BY created_at DESC`
	}
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr(err, "sqlite: list posts")
	}
	defer rows.Close() //nolint:errcheck

	var posts []model.GeneratedPost
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, *p)
	}
	return posts, dbErr(rows.Err(), "sqlite: list posts iterate")
}

const usageColumns = `id, model_name, provider, input_tokens, output_tokens, total_tokens, input_cost,
	output_cost, total_cost, request_type, component, latency_ms, success, error_message, error_type, created_at`

func (s *SQLiteStore) InsertUsage(ctx context.Context, rec *model.UsageRecord) error {
	prepareUsage(rec, time.Now().UTC(), uuid.NewString)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO llm_usage (`+usageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ModelName, rec.Provider, rec.InputTokens, rec.OutputTokens, rec.TotalTokens,
		rec.InputCost, rec.OutputCost, rec.TotalCost, rec.RequestType, rec.Component,
		rec.LatencyMS, rec.Success, rec.ErrorMessage, rec.ErrorType, rec.CreatedAt.UTC(),
	)
	return dbErr(err, "sqlite: insert usage %s", rec.ModelName)
}

func (s *SQLiteStore) ListUsage(ctx context.Context, since time.Time) ([]model.UsageRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+usageColumns+` FROM llm_usage WHERE created_at >= ? ORDER BY created_at`,
		since.UTC(),
	)
	if err != nil {
		return nil, dbErr(err, "sqlite: list usage")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.UsageRecord
	for rows.Next() {
		var r model.UsageRecord
		if err := rows.Scan(&r.ID, &r.ModelName, &r.Provider, &r.InputTokens, &r.OutputTokens,
			&r.TotalTokens, &r.InputCost, &r.OutputCost, &r.TotalCost, &r.RequestType, &r.Component,
			&r.LatencyMS, &r.Success, &r.ErrorMessage, &r.ErrorType, &r.CreatedAt); err != nil {
			return nil, dbErr(err, "sqlite: scan usage")
		}
		out = append(out, r)
	}
	return out, dbErr(rows.Err(), "sqlite: list usage iterate")
}

// SumCost totals successful calls made at or after since.
func (s *SQLiteStore) SumCost(ctx context.Context, since time.Time) (float64, error) {
	var total float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(total_cost), 0.0) FROM llm_usage WHERE success = 1 AND created_at >= ?`,
		since.UTC(),
	).Scan(&total)
	if err != nil {
		return 0, dbErr(err, "sqlite: sum cost")
	}
	return total, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSignal(row scannable) (*model.Signal, error) {
	var sig model.Signal
	var tags, authors, refs string
	err := row.Scan(&sig.ID, &sig.Type, &sig.SourceID, &sig.Title, &sig.Summary, &sig.URL,
		&sig.PublishedAt, &sig.UpstreamRelevance, &sig.IsViral, &tags, &authors,
		&sig.AuthorHandle, &refs, &sig.Processed, &sig.CollectedAt)
	if err != nil {
		return nil, dbErr(err, "sqlite: scan signal")
	}
	if err := unmarshalList(tags, &sig.CategoryTags); err != nil {
		return nil, err
	}
	if err := unmarshalList(authors, &sig.Authors); err != nil {
		return nil, err
	}
	if err := unmarshalList(refs, &sig.ReferencedSourceIDs); err != nil {
		return nil, err
	}
	return &sig, nil
}

func scanPost(row scannable) (*model.GeneratedPost, error) {
	var p model.GeneratedPost
	var hashtags, mentions, discussions string
	var scheduled, posted sql.NullTime

	err := row.Scan(&p.ID, &p.Content, &hashtags, &mentions, &p.QualityScore, &p.Status,
		&scheduled, &posted, &p.ReviewNotes, &p.PaperSourceID, &discussions, &p.ContentType,
		&p.EngagementPrediction, &p.ModelName, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if eris.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, dbErr(err, "sqlite: scan post")
	}
	if scheduled.Valid {
		t := scheduled.Time.UTC()
		p.ScheduledFor = &t
	}
	if posted.Valid {
		t := posted.Time.UTC()
		p.PostedAt = &t
	}
	if err := unmarshalList(hashtags, &p.Hashtags); err != nil {
		return nil, err
	}
	if err := unmarshalList(mentions, &p.Mentions); err != nil {
		return nil, err
	}
	if err := unmarshalList(discussions, &p.DiscussionSourceIDs); err != nil {
		return nil, err
	}
	return &p, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func marshalList(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", eris.Wrap(err, "store: marshal list")
	}
	return string(b), nil
}

func unmarshalList(raw string, dst *[]string) error {
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return eris.Wrap(err, "store: unmarshal list")
	}
	if len(*dst) == 0 {
		*dst = nil
	}
	return nil
}

func marshalSignalLists(sig model.Signal) (tags, authors, refs string, err error) {
	if tags, err = marshalList(sig.CategoryTags); err != nil {
		return
	}
	if authors, err = marshalList(sig.Authors); err != nil {
		return
	}
	refs, err = marshalList(sig.ReferencedSourceIDs)
	return
}

func marshalPostLists(p *model.GeneratedPost) (hashtags, mentions, discussions string, err error) {
	if hashtags, err = marshalList(p.Hashtags); err != nil {
		return
	}
	if mentions, err = marshalList(p.Mentions); err != nil {
		return
	}
	discussions, err = marshalList(p.DiscussionSourceIDs)
	return
}
