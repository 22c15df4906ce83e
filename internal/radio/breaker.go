package radio

import (
	"errors"
	"sync"
	"time"

	"github.com/taoyao-code/mlab-sync/internal/clock"
)

// ErrCircuitOpen 连续发送失败后熔断，冷却期内直接拒绝
var ErrCircuitOpen = errors.New("radio send circuit open")

// BreakerState 熔断器状态
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // 正常发送
	BreakerOpen                         // 拒绝发送
	BreakerHalfOpen                     // 冷却结束，放行一次试探
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// SendBreaker 出站发送熔断器。
// 连续 threshold 次写失败后打开；cooldown 后进入半开，试探成功即恢复。
type SendBreaker struct {
	mu       sync.Mutex
	clk      clock.Clock
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool
	trips    int64

	threshold int
	cooldown  time.Duration
}

// NewSendBreaker threshold<=0 时返回 nil（不熔断）
func NewSendBreaker(threshold int, cooldown time.Duration, clk clock.Clock) *SendBreaker {
	if threshold <= 0 {
		return nil
	}
	if cooldown <= 0 {
		cooldown = 5 * time.Second
	}
	return &SendBreaker{clk: clk, threshold: threshold, cooldown: cooldown}
}

// Call 受保护地执行一次发送；nil 熔断器直接执行
func (b *SendBreaker) Call(fn func() error) error {
	if b == nil {
		return fn()
	}
	if err := b.before(); err != nil {
		return err
	}
	err := fn()
	b.after(err)
	return err
}

func (b *SendBreaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerOpen:
		if b.clk.Now().Sub(b.openedAt) < b.cooldown {
			return ErrCircuitOpen
		}
		b.state = BreakerHalfOpen
		b.probing = true
		return nil
	case BreakerHalfOpen:
		// 同一时刻只放行一次试探
		if b.probing {
			return ErrCircuitOpen
		}
		b.probing = true
		return nil
	default:
		return nil
	}
}

func (b *SendBreaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
	if err == nil {
		b.state = BreakerClosed
		b.failures = 0
		return
	}
	b.failures++
	if b.state == BreakerHalfOpen || b.failures >= b.threshold {
		if b.state != BreakerOpen {
			b.trips++
		}
		b.state = BreakerOpen
		b.openedAt = b.clk.Now()
	}
}

// State 当前状态
func (b *SendBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// BreakerStats 熔断器统计
type BreakerStats struct {
	State    string `json:"state"`
	Failures int    `json:"failures"`
	Trips    int64  `json:"trips"`
}

func (b *SendBreaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{State: b.state.String(), Failures: b.failures, Trips: b.trips}
}
