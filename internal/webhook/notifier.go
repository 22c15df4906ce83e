package webhook

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/mlab-sync/internal/transmitter"
)

// EventRunSettled 运行结算事件类型
const EventRunSettled = "run.settled"

// Event 推送载荷
type Event struct {
	Event     string                `json:"event"`
	Timestamp int64                 `json:"timestamp"`
	Data      transmitter.RunReport `json:"data"`
}

// RunNotifier 将结算报告异步推送到 webhook；队列满时丢弃并告警
type RunNotifier struct {
	pusher *Pusher
	url    string
	queue  chan transmitter.RunReport
	logger *zap.Logger
}

func NewRunNotifier(pusher *Pusher, url string, queueSize int, logger *zap.Logger) *RunNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &RunNotifier{
		pusher: pusher,
		url:    url,
		queue:  make(chan transmitter.RunReport, queueSize),
		logger: logger,
	}
}

// OnRunSettled 在会话管理器锁外调用，不阻塞
func (n *RunNotifier) OnRunSettled(r transmitter.RunReport) {
	select {
	case n.queue <- r:
	default:
		n.logger.Warn("webhook queue full, report dropped", zap.String("run_id", r.ID))
	}
}

// Run 消费队列直到 ctx 结束
func (n *RunNotifier) Run(ctx context.Context) {
	n.logger.Info("webhook notifier started", zap.String("url", n.url))
	for {
		select {
		case <-ctx.Done():
			n.logger.Info("webhook notifier stopped")
			return
		case r := <-n.queue:
			n.push(ctx, r)
		}
	}
}

func (n *RunNotifier) push(ctx context.Context, r transmitter.RunReport) {
	ev := Event{Event: EventRunSettled, Timestamp: time.Now().Unix(), Data: r}
	code, _, err := n.pusher.SendJSON(ctx, n.url, ev)
	if err != nil || code >= 300 {
		n.logger.Error("webhook push failed",
			zap.String("run_id", r.ID),
			zap.Int("status", code),
			zap.Error(err))
		return
	}
	n.logger.Debug("webhook pushed", zap.String("run_id", r.ID), zap.Int("status", code))
}
