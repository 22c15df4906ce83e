package radio

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/taoyao-code/mlab-sync/internal/clock"
	cfgpkg "github.com/taoyao-code/mlab-sync/internal/config"
	"github.com/taoyao-code/mlab-sync/internal/metrics"
)

const maxDatagram = 256

// UDPLink 以 UDP 广播模拟无线广播信道
type UDPLink struct {
	conn      *net.UDPConn
	broadcast *net.UDPAddr
	in        *inbox
	breaker   *SendBreaker
	logger    *zap.Logger

	mu     sync.Mutex
	peers  map[Addr]*net.UDPAddr
	closed bool
	wg     sync.WaitGroup
}

// ListenUDP 监听并启动读循环
func ListenUDP(cfg cfgpkg.RadioConfig, clk clock.Clock, m *metrics.ProtocolMetrics, logger *zap.Logger) (*UDPLink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	laddr, err := net.ResolveUDPAddr("udp4", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve listen addr: %w", err)
	}
	baddr, err := net.ResolveUDPAddr("udp4", cfg.BroadcastAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve broadcast addr: %w", err)
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, fmt.Errorf("listen udp: %w", err)
	}

	l := &UDPLink{
		conn:      conn,
		broadcast: baddr,
		in:        newInbox(cfg.QueueSize, clk, NewFrameLimiter(cfg.InboundRatePerSec, cfg.InboundBurst, m), m, logger),
		breaker:   NewSendBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown, clk),
		logger:    logger,
		peers:     make(map[Addr]*net.UDPAddr),
	}
	l.wg.Add(1)
	go l.readLoop()
	logger.Info("radio link listening",
		zap.String("listen", conn.LocalAddr().String()),
		zap.String("broadcast", baddr.String()))
	return l, nil
}

func (l *UDPLink) readLoop() {
	defer l.wg.Done()
	defer close(l.in.ch)
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			l.logger.Warn("radio read error", zap.Error(err))
			continue
		}
		addr := Addr(from.String())
		l.mu.Lock()
		l.peers[addr] = from
		l.mu.Unlock()
		l.in.deliver(addr, buf[:n])
	}
}

// Broadcast 广播发送
func (l *UDPLink) Broadcast(data []byte) error {
	if l.isClosed() {
		return ErrClosed
	}
	return l.write(data, l.broadcast)
}

// SendTo 单播发送，优先使用已见过的对端地址
func (l *UDPLink) SendTo(addr Addr, data []byte) error {
	if l.isClosed() {
		return ErrClosed
	}
	l.mu.Lock()
	ua, ok := l.peers[addr]
	l.mu.Unlock()
	if !ok {
		resolved, err := net.ResolveUDPAddr("udp4", string(addr))
		if err != nil {
			return fmt.Errorf("%w: %s", ErrUnknownPeer, addr)
		}
		ua = resolved
	}
	return l.write(data, ua)
}

func (l *UDPLink) write(data []byte, to *net.UDPAddr) error {
	return l.breaker.Call(func() error {
		_, err := l.conn.WriteToUDP(data, to)
		return err
	})
}

func (l *UDPLink) Frames() <-chan Frame { return l.in.ch }

func (l *UDPLink) LocalAddr() Addr { return Addr(l.conn.LocalAddr().String()) }

// Stats 队列与限流统计
func (l *UDPLink) Stats() LinkStats {
	st := l.in.stats(l.isClosed())
	if l.breaker != nil {
		bs := l.breaker.Stats()
		st.Breaker = &bs
	}
	return st
}

func (l *UDPLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Close 关闭套接字并等待读循环退出
func (l *UDPLink) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()
	err := l.conn.Close()
	l.wg.Wait()
	return err
}
