package health

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DatabaseChecker 运行归档库检查：连通性、连接池与 runs 表可读
type DatabaseChecker struct {
	pool *pgxpool.Pool
}

func NewDatabaseChecker(pool *pgxpool.Pool) *DatabaseChecker {
	return &DatabaseChecker{pool: pool}
}

func (c *DatabaseChecker) Name() string { return "run_archive" }

func (c *DatabaseChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	if err := c.pool.Ping(ctx); err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: fmt.Sprintf("ping failed: %v", err),
			Latency: time.Since(start),
		}
	}

	stats := c.pool.Stat()
	utilization := 0.0
	if stats.MaxConns() > 0 {
		utilization = float64(stats.AcquiredConns()) / float64(stats.MaxConns())
	}
	status, msg := utilizationStatus(utilization, 0.9, 1.0)
	msg = "connection pool " + msg

	details := map[string]interface{}{
		"acquired_conns": stats.AcquiredConns(),
		"max_conns":      stats.MaxConns(),
		"utilization":    fmt.Sprintf("%.1f%%", utilization*100),
	}

	// 归档不可写不影响同步运行本身，只降级
	var archived int64
	var lastSettled *time.Time
	err := c.pool.QueryRow(ctx, `SELECT count(*), max(settled_at) FROM runs`).Scan(&archived, &lastSettled)
	if err != nil {
		if status == StatusHealthy {
			status = StatusDegraded
		}
		msg = fmt.Sprintf("runs table unreadable: %v", err)
	} else {
		details["archived_runs"] = archived
		if lastSettled != nil {
			details["last_settled_at"] = lastSettled.UTC().Format(time.RFC3339)
		}
	}

	return CheckResult{
		Status:  status,
		Message: msg,
		Details: details,
		Latency: time.Since(start),
	}
}
