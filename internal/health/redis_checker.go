package health

import (
	"context"
	"fmt"
	"time"

	redisstorage "github.com/taoyao-code/mlab-sync/internal/storage/redis"
)

// RedisChecker 设备号与运行报告存储检查
type RedisChecker struct {
	client *redisstorage.Client
}

func NewRedisChecker(client *redisstorage.Client) *RedisChecker {
	return &RedisChecker{client: client}
}

func (c *RedisChecker) Name() string { return "redis" }

func (c *RedisChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	if err := c.client.HealthCheck(ctx); err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: fmt.Sprintf("ping failed: %v", err),
			Latency: time.Since(start),
		}
	}

	stats := c.client.Stats()
	utilization := 0.0
	if stats.TotalConns > 0 {
		utilization = float64(stats.TotalConns-stats.IdleConns) / float64(stats.TotalConns)
	}
	status, msg := utilizationStatus(utilization, 0.9, 1.01)
	msg = "connection pool " + msg

	details := map[string]interface{}{
		"total_conns": stats.TotalConns,
		"idle_conns":  stats.IdleConns,
		"timeouts":    stats.Timeouts,
	}
	if n, err := c.client.RunHistoryLen(ctx); err == nil {
		details["run_history"] = n
	}

	return CheckResult{
		Status:  status,
		Message: msg,
		Details: details,
		Latency: time.Since(start),
	}
}
