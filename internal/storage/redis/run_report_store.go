package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/mlab-sync/internal/transmitter"
)

const runReportsKey = keyPrefix + "runs:recent"

// RunReportStore 最近的运行结算报告（List，头部最新，定长截断）
type RunReportStore struct {
	client  *Client
	history int64
	logger  *zap.Logger
}

func NewRunReportStore(client *Client, history int, logger *zap.Logger) *RunReportStore {
	if history <= 0 {
		history = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunReportStore{client: client, history: int64(history), logger: logger}
}

// Push 写入并截断
func (s *RunReportStore) Push(ctx context.Context, r transmitter.RunReport) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, runReportsKey, data)
	pipe.LTrim(ctx, runReportsKey, 0, s.history-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push report: %w", err)
	}
	return nil
}

// Recent 最新在前；n<=0 返回全部保留条目
func (s *RunReportStore) Recent(ctx context.Context, n int) ([]transmitter.RunReport, error) {
	stop := int64(n) - 1
	if n <= 0 || int64(n) > s.history {
		stop = s.history - 1
	}
	items, err := s.client.LRange(ctx, runReportsKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("range reports: %w", err)
	}
	out := make([]transmitter.RunReport, 0, len(items))
	for _, item := range items {
		var r transmitter.RunReport
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			s.logger.Warn("skip undecodable report", zap.Error(err))
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// OnRunSettled 实现 transmitter.Observer
func (s *RunReportStore) OnRunSettled(r transmitter.RunReport) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Push(ctx, r); err != nil {
		s.logger.Error("store run report failed", zap.String("run_id", r.ID), zap.Error(err))
	}
}

// RunHistoryLen 当前保留的报告条数
func (c *Client) RunHistoryLen(ctx context.Context) (int64, error) {
	return c.LLen(ctx, runReportsKey).Result()
}
