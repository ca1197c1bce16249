package logging

import (
	"context"
	"strings"
	"sync"

	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"k8s.io/klog/v2"
)

var (
	// L is the shared structured logger used across the project.
	L     *zap.Logger
	level = zap.NewAtomicLevelAt(zap.InfoLevel)
	once  sync.Once
)

type ctxKey struct{}

func init() {
	Init()
}

// Init builds the global logger if it has not been constructed yet.
// It uses zap's production configuration for consistent structured output
// and routes client-go's klog output through the same core.
func Init() {
	once.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.Level = level
		cfg.Sampling = nil
		logger, err := cfg.Build()
		if err != nil {
			panic(err)
		}
		L = logger
		klog.SetLogger(zapr.NewLogger(logger.Named("client-go")))
	})
}

// SetLevel changes the level of the global logger. Unknown names keep the
// current level and report false.
func SetLevel(name string) bool {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(name)))); err != nil {
		return false
	}
	level.SetLevel(lvl)
	return true
}

// WithContext stores a request-scoped logger in ctx.
func WithContext(ctx context.Context, lg *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, lg)
}

// FromContext returns the logger stored by WithContext, or L.
func FromContext(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if lg, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok && lg != nil {
			return lg
		}
	}
	return L
}
