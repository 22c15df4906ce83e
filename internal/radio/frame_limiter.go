package radio

import (
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/taoyao-code/mlab-sync/internal/metrics"
)

// maxLimitedPeers 单链路跟踪的来源上限，超出后整体重置
const maxLimitedPeers = 64

// FrameLimiter 入站帧限流：每个来源地址一个令牌桶，
// 某个设备刷屏不会挤掉其他设备的 ACK/命令
type FrameLimiter struct {
	perSec int
	burst  int

	mu    sync.Mutex
	peers map[Addr]*rate.Limiter

	admitted atomic.Int64
	dropped  atomic.Int64
	metrics  *metrics.ProtocolMetrics
}

// NewFrameLimiter perSec<=0 时返回 nil（不限流）
func NewFrameLimiter(perSec, burst int, m *metrics.ProtocolMetrics) *FrameLimiter {
	if perSec <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = perSec * 2
	}
	return &FrameLimiter{perSec: perSec, burst: burst, peers: make(map[Addr]*rate.Limiter), metrics: m}
}

func (l *FrameLimiter) bucket(from Addr) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.peers[from]
	if !ok {
		if len(l.peers) >= maxLimitedPeers {
			l.peers = make(map[Addr]*rate.Limiter)
		}
		b = rate.NewLimiter(rate.Limit(l.perSec), l.burst)
		l.peers[from] = b
	}
	return b
}

// Admit 非阻塞判定；超限帧计入 rate_limited 丢弃
func (l *FrameLimiter) Admit(from Addr) bool {
	if l.bucket(from).Allow() {
		l.admitted.Add(1)
		return true
	}
	l.dropped.Add(1)
	l.metrics.Dropped("rate_limited")
	return false
}

// Stats 限流统计
func (l *FrameLimiter) Stats() FrameLimiterStats {
	l.mu.Lock()
	peers := len(l.peers)
	l.mu.Unlock()
	return FrameLimiterStats{
		PerSecond:     l.perSec,
		Burst:         l.burst,
		Peers:         peers,
		AdmittedTotal: l.admitted.Load(),
		DroppedTotal:  l.dropped.Load(),
	}
}

// FrameLimiterStats 每来源的速率与累计计数
type FrameLimiterStats struct {
	PerSecond     int   `json:"per_second"`
	Burst         int   `json:"burst"`
	Peers         int   `json:"peers"`
	AdmittedTotal int64 `json:"admitted_total"`
	DroppedTotal  int64 `json:"dropped_total"`
}
