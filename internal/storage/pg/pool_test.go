package pg

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/tracelog"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	cfgpkg "github.com/taoyao-code/mlab-sync/internal/config"
)

func TestNewPoolBadDSN(t *testing.T) {
	_, err := NewPool(context.Background(), cfgpkg.DatabaseConfig{DSN: "::not a dsn::"}, nil)
	assert.Error(t, err)
}

func TestPgxZapLoggerLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := &pgxZapLogger{logger: zap.New(core)}

	l.Log(context.Background(), tracelog.LogLevelTrace, "Query", map[string]interface{}{"sql": "select 1"})
	l.Log(context.Background(), tracelog.LogLevelError, "Query", nil)

	entries := logs.All()
	if assert.Len(t, entries, 2) {
		assert.Equal(t, "[SQL] Query", entries[0].Message)
		assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
		assert.Equal(t, "select 1", entries[0].ContextMap()["sql"])
		assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	}
}
