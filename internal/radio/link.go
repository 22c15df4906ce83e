package radio

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/mlab-sync/internal/clock"
	"github.com/taoyao-code/mlab-sync/internal/metrics"
)

var (
	// ErrClosed 链路已关闭
	ErrClosed = errors.New("radio link closed")
	// ErrUnknownPeer 目标地址不可达
	ErrUnknownPeer = errors.New("unknown peer")
)

// Addr 链路层地址（UDP 为 host:port，内存总线为端点名）
type Addr string

// Frame 入站帧，到达时刻由链路在回调上下文中打点
type Frame struct {
	Data   []byte
	From   Addr
	At     time.Time
	Micros uint32
}

// Link 广播链路抽象：读回调只投递到有界队列，不在回调中做协议处理
type Link interface {
	// Broadcast 广播发送（命令包）
	Broadcast(data []byte) error
	// SendTo 单播发送（ACK）
	SendTo(addr Addr, data []byte) error
	// Frames 入站帧通道，链路关闭后关闭
	Frames() <-chan Frame
	// LocalAddr 本端地址
	LocalAddr() Addr
	Close() error
}

// inbox 有界入站队列：满或超限时直接丢弃，保证读回调不阻塞
type inbox struct {
	ch      chan Frame
	clk     clock.Clock
	limiter *FrameLimiter
	metrics *metrics.ProtocolMetrics
	logger  *zap.Logger
}

func newInbox(size int, clk clock.Clock, limiter *FrameLimiter, m *metrics.ProtocolMetrics, logger *zap.Logger) *inbox {
	if size <= 0 {
		size = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &inbox{ch: make(chan Frame, size), clk: clk, limiter: limiter, metrics: m, logger: logger}
}

// deliver 打点并非阻塞入队
func (b *inbox) deliver(from Addr, data []byte) bool {
	f := Frame{From: from, At: b.clk.Now(), Micros: b.clk.Micros()}
	if b.limiter != nil && !b.limiter.Admit(from) {
		return false
	}
	f.Data = append([]byte(nil), data...)
	select {
	case b.ch <- f:
		return true
	default:
		b.metrics.Dropped("queue_full")
		b.logger.Debug("inbound queue full, frame dropped", zap.String("from", string(from)))
		return false
	}
}

// LinkStats 链路运行统计
type LinkStats struct {
	QueueLen int               `json:"queue_len"`
	QueueCap int               `json:"queue_cap"`
	Closed   bool              `json:"closed"`
	Limiter  *FrameLimiterStats `json:"limiter,omitempty"`
	Breaker  *BreakerStats     `json:"breaker,omitempty"`
}

func (b *inbox) stats(closed bool) LinkStats {
	st := LinkStats{QueueLen: len(b.ch), QueueCap: cap(b.ch), Closed: closed}
	if b.limiter != nil {
		ls := b.limiter.Stats()
		st.Limiter = &ls
	}
	return st
}
