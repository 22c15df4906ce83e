package gormrepo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfgpkg "github.com/taoyao-code/mlab-sync/internal/config"
	"github.com/taoyao-code/mlab-sync/internal/storage/pg"
	"github.com/taoyao-code/mlab-sync/internal/transmitter"
)

func sampleReport() transmitter.RunReport {
	start := time.Date(2024, 6, 14, 12, 0, 0, 0, time.UTC)
	return transmitter.RunReport{
		ID:        uuid.NewString(),
		Token:     0xFFFFFFF0,
		StartedAt: start,
		SettledAt: start.Add(1500 * time.Millisecond),
		Targets: []transmitter.TargetOutcome{
			{TargetID: 1, Outcome: transmitter.OutcomeSucceeded, RTTUs: 4100, ProcessingUs: 220, DelayMs: 5000, PlayMs: 10000},
			{TargetID: 2, Outcome: transmitter.OutcomeFailed, Reason: transmitter.ReasonExhausted, DelayMs: 5000, PlayMs: 10000},
		},
	}
}

func TestRecordConversion(t *testing.T) {
	rep := sampleReport()
	rec := ToRecord(rep)
	assert.Equal(t, int32(1), rec.Succeeded)
	assert.Equal(t, int32(1), rec.Failed)
	assert.Equal(t, int64(0xFFFFFFF0), rec.Token)
	require.Len(t, rec.Targets, 2)
	assert.Nil(t, rec.Targets[0].Reason)
	require.NotNil(t, rec.Targets[1].Reason)
	assert.Equal(t, transmitter.ReasonExhausted, *rec.Targets[1].Reason)

	assert.Equal(t, rep, FromRecord(rec))
}

// 需要 PostgreSQL（MLAB_TEST_DATABASE_URL），不可用时跳过
func testArchive(t *testing.T) *RunArchive {
	t.Helper()
	dsn := os.Getenv("MLAB_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("MLAB_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pg.NewPool(ctx, cfgpkg.DatabaseConfig{DSN: dsn, MaxOpenConns: 2}, nil)
	if err != nil {
		t.Skipf("database unavailable: %v", err)
	}
	t.Cleanup(pool.Close)
	db, err := pg.OpenGorm(pool)
	require.NoError(t, err)
	a := New(db, nil)
	require.NoError(t, a.AutoMigrate(ctx))
	return a
}

func TestSaveAndGet(t *testing.T) {
	a := testArchive(t)
	ctx := context.Background()
	rep := sampleReport()

	require.NoError(t, a.Save(ctx, rep))
	require.NoError(t, a.Save(ctx, rep))

	got, err := a.Get(ctx, rep.ID)
	require.NoError(t, err)
	assert.Equal(t, rep.Token, got.Token)
	assert.Len(t, got.Targets, 2)
	assert.True(t, rep.SettledAt.Equal(got.SettledAt))

	recent, err := a.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, recent, 1)

	_, err = a.Get(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
}
