package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hostclick/kapi/internal/logging"
	"github.com/hostclick/kapi/internal/util"
	"github.com/hostclick/kapi/pkg/types"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

type postgresStore struct {
	db *sql.DB
}

// NewPostgres opens dsn, waits up to connectTimeout for the database to
// answer and applies pending migrations.
func NewPostgres(ctx context.Context, dsn string, connectTimeout time.Duration) (*postgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(1 * time.Hour)

	err = util.Retry(ctx, connectTimeout, func() (bool, error) {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			logging.L.Warn("postgres_unavailable", zap.Error(err))
			return true, err
		}
		return false, nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	st := &postgresStore{db: db}
	if err := st.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (p *postgresStore) init(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (id TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL)`); err != nil {
		return err
	}
	for _, m := range migrations {
		applied, err := p.isApplied(ctx, m.ID)
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		if err := p.applyMigration(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (p *postgresStore) Close(ctx context.Context) error {
	return p.db.Close()
}

func (p *postgresStore) Health(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func handleSQLError(err error) error {
	if err == nil {
		return nil
	}
	// pgx driver returns plain errors; string matching keeps deps small.
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	msg := err.Error()
	if containsAny(msg, "unique constraint", "duplicate key") {
		return ErrConflict
	}
	return err
}

func containsAny(msg string, tokens ...string) bool {
	for _, t := range tokens {
		if t != "" && strings.Contains(msg, t) {
			return true
		}
	}
	return false
}

func (p *postgresStore) RecordTransition(ctx context.Context, t *types.Transition) error {
	prepare(t)
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO transitions (id, vhost, name, suspended, outcome, error, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, t.ID, t.VHost, t.Name, t.Suspended, t.Outcome, t.Error, t.At)
	return handleSQLError(err)
}

func (p *postgresStore) TenantState(ctx context.Context, vhost string) (types.TenantState, error) {
	var st types.TenantState
	err := p.db.QueryRowContext(ctx, `
		SELECT vhost, name, suspended, at FROM transitions
		WHERE vhost=$1 AND outcome=$2
		ORDER BY at DESC, seq DESC LIMIT 1
	`, vhost, types.OutcomeOK).Scan(&st.VHost, &st.Name, &st.Suspended, &st.UpdatedAt)
	if err != nil {
		return types.TenantState{}, handleSQLError(err)
	}
	st.UpdatedAt = st.UpdatedAt.UTC()
	return st, nil
}

func (p *postgresStore) ListTransitions(ctx context.Context, vhost string, limit int) ([]types.Transition, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, vhost, name, suspended, outcome, error, at FROM transitions
		WHERE vhost=$1
		ORDER BY at DESC, seq DESC LIMIT $2
	`, vhost, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []types.Transition
	for rows.Next() {
		var t types.Transition
		if err := rows.Scan(&t.ID, &t.VHost, &t.Name, &t.Suspended, &t.Outcome, &t.Error, &t.At); err != nil {
			return nil, err
		}
		t.At = t.At.UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

type migration struct {
	ID  string
	SQL string
}

var migrations = []migration{
	{
		ID: "0001_transitions",
		SQL: `
CREATE TABLE IF NOT EXISTS transitions (
	seq BIGSERIAL,
	id UUID PRIMARY KEY,
	vhost TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	suspended BOOLEAN NOT NULL,
	outcome TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS transitions_vhost_at ON transitions (vhost, at DESC);
`,
	},
}

func (p *postgresStore) isApplied(ctx context.Context, id string) (bool, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM schema_migrations WHERE id=$1`, id).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (p *postgresStore) applyMigration(ctx context.Context, m migration) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("migration %s: %w", m.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (id, applied_at) VALUES ($1, $2)`, m.ID, time.Now().UTC()); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("migration %s: %w", m.ID, err)
	}
	return tx.Commit()
}
