package store

import (
	"context"
	"strings"
	"time"

	"github.com/hostclick/kapi/internal/logging"
	"go.uber.org/zap"
)

// Open returns a PostgreSQL store for dsn, or an in-memory one when dsn is empty.
func Open(ctx context.Context, dsn string, connectTimeout time.Duration) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		logging.L.Info("store_selected", zap.String("backend", "memory"))
		return NewMemory(), nil
	}
	st, err := NewPostgres(ctx, dsn, connectTimeout)
	if err != nil {
		return nil, err
	}
	logging.L.Info("store_selected", zap.String("backend", "postgres"))
	return st, nil
}
