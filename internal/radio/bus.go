package radio

import (
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/mlab-sync/internal/clock"
	"github.com/taoyao-code/mlab-sync/internal/metrics"
)

// FaultConfig 内存总线故障注入配置
type FaultConfig struct {
	LossRate      float64 // 丢包概率 0..1
	DuplicateRate float64 // 重复投递概率 0..1
	// Delay 单程传播时延：帧挂起到 now+Delay，由 Pump 在时钟越过到达时刻后投递
	Delay time.Duration
	Seed  int64
}

// inFlight 传播中的帧
type inFlight struct {
	due  time.Time
	from Addr
	to   *BusLink
	data []byte
}

// DropFunc 返回 true 时丢弃该帧（确定性故障注入）
type DropFunc func(from, to Addr, data []byte) bool

// Bus 进程内广播信道：无时延时投递同步完成，便于按 tick 驱动的确定性测试
type Bus struct {
	mu        sync.Mutex
	clk       clock.Clock
	endpoints map[Addr]*BusLink
	order     []Addr
	faults    FaultConfig
	rnd       *rand.Rand
	drop      DropFunc
	pending   []inFlight
	metrics   *metrics.ProtocolMetrics
	logger    *zap.Logger
}

// NewBus 创建内存总线；所有端点共享同一时钟
func NewBus(clk clock.Clock, faults FaultConfig, m *metrics.ProtocolMetrics, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		clk:       clk,
		endpoints: make(map[Addr]*BusLink),
		faults:    faults,
		rnd:       rand.New(rand.NewSource(faults.Seed)),
		metrics:   m,
		logger:    logger,
	}
}

// SetDropFunc 安装确定性丢帧规则
func (b *Bus) SetDropFunc(fn DropFunc) {
	b.mu.Lock()
	b.drop = fn
	b.mu.Unlock()
}

// Endpoint 创建（或返回已存在的）端点
func (b *Bus) Endpoint(name Addr, queueSize int) *BusLink {
	return b.EndpointWithClock(name, queueSize, b.clk)
}

// EndpointWithClock 端点使用独立时钟（模拟各设备自由运行的 micros）
func (b *Bus) EndpointWithClock(name Addr, queueSize int, clk clock.Clock) *BusLink {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ep, ok := b.endpoints[name]; ok {
		return ep
	}
	ep := &BusLink{bus: b, addr: name, in: newInbox(queueSize, clk, nil, b.metrics, b.logger)}
	b.endpoints[name] = ep
	b.order = append(b.order, name)
	return ep
}

// transmit 按故障配置投递到目标集合
// 持锁投递：deliver 非阻塞，且避免与 Close 竞争已关闭的通道
func (b *Bus) transmit(from Addr, targets []Addr, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, to := range targets {
		ep, ok := b.endpoints[to]
		if !ok || ep.closed {
			continue
		}
		if b.drop != nil && b.drop(from, to, data) {
			continue
		}
		if b.faults.LossRate > 0 && b.rnd.Float64() < b.faults.LossRate {
			continue
		}
		b.emit(ep, from, data)
		if b.faults.DuplicateRate > 0 && b.rnd.Float64() < b.faults.DuplicateRate {
			b.emit(ep, from, data)
		}
	}
}

func (b *Bus) emit(ep *BusLink, from Addr, data []byte) {
	if b.faults.Delay <= 0 {
		ep.in.deliver(from, data)
		return
	}
	b.pending = append(b.pending, inFlight{
		due:  b.clk.Now().Add(b.faults.Delay),
		from: from,
		to:   ep,
		data: append([]byte(nil), data...),
	})
}

// Pump 按发送顺序投递已到达的帧，返回投递数；到达时刻以投递时的时钟打点
func (b *Bus) Pump() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.clk.Now()
	n := 0
	kept := b.pending[:0]
	for _, f := range b.pending {
		if now.Before(f.due) {
			kept = append(kept, f)
			continue
		}
		if !f.to.closed {
			f.to.in.deliver(f.from, f.data)
			n++
		}
	}
	for i := len(kept); i < len(b.pending); i++ {
		b.pending[i] = inFlight{}
	}
	b.pending = kept
	return n
}

// InFlight 尚未到达的帧数
func (b *Bus) InFlight() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// BusLink 内存总线端点
type BusLink struct {
	bus     *Bus
	addr    Addr
	in      *inbox
	closed  bool
	sendErr error
}

// FailSends 令后续发送返回 err（nil 恢复），模拟驱动发送失败
func (l *BusLink) FailSends(err error) {
	l.bus.mu.Lock()
	l.sendErr = err
	l.bus.mu.Unlock()
}

func (l *BusLink) preflight() error {
	l.bus.mu.Lock()
	defer l.bus.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	return l.sendErr
}

// Broadcast 投递到除自身外的所有端点
func (l *BusLink) Broadcast(data []byte) error {
	if err := l.preflight(); err != nil {
		return err
	}
	l.bus.mu.Lock()
	targets := make([]Addr, 0, len(l.bus.order))
	for _, a := range l.bus.order {
		if a != l.addr {
			targets = append(targets, a)
		}
	}
	l.bus.mu.Unlock()
	l.bus.transmit(l.addr, targets, data)
	return nil
}

// SendTo 单播
func (l *BusLink) SendTo(addr Addr, data []byte) error {
	if err := l.preflight(); err != nil {
		return err
	}
	l.bus.mu.Lock()
	_, ok := l.bus.endpoints[addr]
	l.bus.mu.Unlock()
	if !ok {
		return ErrUnknownPeer
	}
	l.bus.transmit(l.addr, []Addr{addr}, data)
	return nil
}

func (l *BusLink) Frames() <-chan Frame { return l.in.ch }

func (l *BusLink) LocalAddr() Addr { return l.addr }

// Stats 队列统计
func (l *BusLink) Stats() LinkStats {
	l.bus.mu.Lock()
	closed := l.closed
	l.bus.mu.Unlock()
	return l.in.stats(closed)
}

// Close 关闭端点并关闭入站通道
func (l *BusLink) Close() error {
	l.bus.mu.Lock()
	defer l.bus.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	close(l.in.ch)
	return nil
}
