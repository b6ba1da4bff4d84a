package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver

	"beauty-rater/api/internal/capture"
	"beauty-rater/api/internal/logging"
	"beauty-rater/api/internal/rating"
)

const Schema = `
create table if not exists ratings (
  id          bigserial primary key,
  created_at  timestamptz not null default now(),
  session_id  text not null,
  channel     text not null,
  image_hash  text not null,
  model       text not null,
  rating      double precision not null,
  title       text not null,
  analysis    text not null
);
create index if not exists ratings_created_at_idx on ratings (created_at desc);
create index if not exists ratings_session_idx on ratings (session_id, created_at desc);`

// Open connects to Postgres through the pgx stdlib driver and pings it.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(1 * time.Hour)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// RatingRow is one stored result. The photo itself is never persisted, only its hash.
type RatingRow struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	SessionID string    `json:"-"`
	Channel   string    `json:"channel"`
	ImageHash string    `json:"imageHash"`
	Model     string    `json:"model"`
	Rating    float64   `json:"rating"`
	Title     string    `json:"title"`
	Analysis  string    `json:"analysis"`
}

type RatingRepo struct {
	DB    *sql.DB
	Model string
}

func NewRatingRepo(db *sql.DB, model string) *RatingRepo { return &RatingRepo{DB: db, Model: model} }

func (r *RatingRepo) EnsureSchema(ctx context.Context) error {
	_, err := r.DB.ExecContext(ctx, Schema)
	return err
}

// Record stores one successful rating.
func (r *RatingRepo) Record(ctx context.Context, sessionID, channel string, img capture.Image, br rating.BeautyRating) error {
	const q = `
insert into ratings (session_id, channel, image_hash, model, rating, title, analysis)
values ($1,$2,$3,$4,$5,$6,$7)`
	_, err := r.DB.ExecContext(ctx, q, sessionID, channel, ImageHash(img), r.Model, br.Rating, br.Title, br.Analysis)
	return logging.NewOperationError("ratings.insert", sessionID, err)
}

// Recent returns one session's rows, newest first. Other sessions' rows are never visible.
func (r *RatingRepo) Recent(ctx context.Context, sessionID string, limit int) ([]RatingRow, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	const q = `
select id, created_at, session_id, channel, image_hash, model, rating, title, analysis
from ratings
where session_id = $1
order by created_at desc
limit $2`
	rows, err := r.DB.QueryContext(ctx, q, sessionID, limit)
	if err != nil {
		return nil, logging.NewOperationError("ratings.recent", sessionID, err)
	}
	defer rows.Close()

	out := make([]RatingRow, 0, limit)
	for rows.Next() {
		var row RatingRow
		if err := rows.Scan(&row.ID, &row.CreatedAt, &row.SessionID, &row.Channel, &row.ImageHash,
			&row.Model, &row.Rating, &row.Title, &row.Analysis); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// PurgeOlderThan drops history older than the given age.
func (r *RatingRepo) PurgeOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errors.New("olderThan must be > 0")
	}
	cutoff := time.Now().Add(-olderThan)
	const q = `delete from ratings where created_at < $1`
	res, err := r.DB.ExecContext(ctx, q, cutoff)
	if err != nil {
		return 0, err
	}
	aff, _ := res.RowsAffected()
	return aff, nil
}

func ImageHash(img capture.Image) string {
	h := sha256.Sum256(img.Data)
	return hex.EncodeToString(h[:])
}
