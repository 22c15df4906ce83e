package radio

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/mlab-sync/internal/clock"
	cfgpkg "github.com/taoyao-code/mlab-sync/internal/config"
	"github.com/taoyao-code/mlab-sync/internal/metrics"
)

func recvOne(t *testing.T, l Link) Frame {
	t.Helper()
	select {
	case f := <-l.Frames():
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
		return Frame{}
	}
}

func TestBusBroadcastAndUnicast(t *testing.T) {
	clk := clock.NewFake(0)
	bus := NewBus(clk, FaultConfig{}, nil, nil)
	tx := bus.Endpoint("tx", 8)
	rx1 := bus.Endpoint("rx1", 8)
	rx2 := bus.Endpoint("rx2", 8)

	require.NoError(t, tx.Broadcast([]byte{1, 2, 3}))
	assert.Equal(t, []byte{1, 2, 3}, recvOne(t, rx1).Data)
	f := recvOne(t, rx2)
	assert.Equal(t, Addr("tx"), f.From)
	assert.Len(t, tx.Frames(), 0, "broadcast must not loop back")

	require.NoError(t, rx1.SendTo("tx", []byte{9}))
	assert.Equal(t, []byte{9}, recvOne(t, tx).Data)
	assert.Len(t, rx2.Frames(), 0)

	assert.ErrorIs(t, rx1.SendTo("nobody", []byte{1}), ErrUnknownPeer)
}

func TestBusDropFuncAndSendFailure(t *testing.T) {
	bus := NewBus(clock.NewFake(0), FaultConfig{}, nil, nil)
	tx := bus.Endpoint("tx", 8)
	rx := bus.Endpoint("rx", 8)

	bus.SetDropFunc(func(from, to Addr, data []byte) bool { return to == "rx" })
	require.NoError(t, tx.Broadcast([]byte{1}))
	assert.Len(t, rx.Frames(), 0)

	boom := errors.New("esp_now_send failed")
	tx.FailSends(boom)
	assert.ErrorIs(t, tx.Broadcast([]byte{1}), boom)
	tx.FailSends(nil)
	bus.SetDropFunc(nil)
	require.NoError(t, tx.Broadcast([]byte{1}))
	assert.Len(t, rx.Frames(), 1)
}

func TestBusQueueFullDrops(t *testing.T) {
	bus := NewBus(clock.NewFake(0), FaultConfig{}, nil, nil)
	tx := bus.Endpoint("tx", 2)
	rx := bus.Endpoint("rx", 2)
	for i := 0; i < 5; i++ {
		require.NoError(t, tx.Broadcast([]byte{byte(i)}))
	}
	assert.Len(t, rx.Frames(), 2)
}

func TestBusDuplicate(t *testing.T) {
	bus := NewBus(clock.NewFake(0), FaultConfig{DuplicateRate: 1}, nil, nil)
	tx := bus.Endpoint("tx", 8)
	rx := bus.Endpoint("rx", 8)
	require.NoError(t, tx.Broadcast([]byte{7}))
	assert.Len(t, rx.Frames(), 2)
}

func TestBusDelayHoldsFramesUntilDue(t *testing.T) {
	clk := clock.NewFake(0)
	bus := NewBus(clk, FaultConfig{Delay: 30 * time.Millisecond}, nil, nil)
	tx := bus.Endpoint("tx", 8)
	rx := bus.Endpoint("rx", 8)
	sentAt := clk.Micros()

	require.NoError(t, tx.Broadcast([]byte{1}))
	require.NoError(t, tx.Broadcast([]byte{2}))
	assert.Equal(t, 2, bus.InFlight())
	assert.Zero(t, bus.Pump())
	assert.Len(t, rx.Frames(), 0)

	clk.Advance(20 * time.Millisecond)
	assert.Zero(t, bus.Pump())

	clk.Advance(10 * time.Millisecond)
	assert.Equal(t, 2, bus.Pump())
	assert.Zero(t, bus.InFlight())
	f := recvOne(t, rx)
	assert.Equal(t, []byte{1}, f.Data)
	assert.Equal(t, uint32(30000), clock.ElapsedMicros(f.Micros, sentAt))
	assert.Equal(t, []byte{2}, recvOne(t, rx).Data)
}

func TestBusCloseEndsFrames(t *testing.T) {
	bus := NewBus(clock.NewFake(0), FaultConfig{}, nil, nil)
	tx := bus.Endpoint("tx", 8)
	rx := bus.Endpoint("rx", 8)
	require.NoError(t, rx.Close())
	_, ok := <-rx.Frames()
	assert.False(t, ok)
	require.NoError(t, tx.Broadcast([]byte{1}))
	assert.ErrorIs(t, rx.Broadcast([]byte{1}), ErrClosed)
}

func TestFrameLimiterPerPeer(t *testing.T) {
	assert.Nil(t, NewFrameLimiter(0, 0, nil))

	m := metrics.NewProtocolMetrics(prometheus.NewRegistry())
	l := NewFrameLimiter(1, 2, m)
	assert.True(t, l.Admit("rx1"))
	assert.True(t, l.Admit("rx1"))
	assert.False(t, l.Admit("rx1"))
	// 其他来源有独立的令牌桶
	assert.True(t, l.Admit("rx2"))

	st := l.Stats()
	assert.Equal(t, 2, st.Peers)
	assert.Equal(t, int64(3), st.AdmittedTotal)
	assert.Equal(t, int64(1), st.DroppedTotal)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesDropped.WithLabelValues("rate_limited")))
}

func TestInboxRateLimitedDrop(t *testing.T) {
	in := newInbox(8, clock.NewFake(0), NewFrameLimiter(1, 1, nil), nil, nil)
	assert.True(t, in.deliver("rx1", []byte{1}))
	assert.False(t, in.deliver("rx1", []byte{2}))
	assert.True(t, in.deliver("rx2", []byte{3}))
	assert.Len(t, in.ch, 2)
	assert.Equal(t, int64(1), in.stats(false).Limiter.DroppedTotal)
}

func TestUDPLinkLoopback(t *testing.T) {
	cfg := cfgpkg.RadioConfig{ListenAddr: "127.0.0.1:0", BroadcastAddr: "127.0.0.1:9", QueueSize: 4}
	a, err := ListenUDP(cfg, clock.NewReal(), nil, nil)
	if err != nil {
		t.Skipf("udp not available: %v", err)
	}
	defer a.Close()
	b, err := ListenUDP(cfg, clock.NewReal(), nil, nil)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.SendTo(b.LocalAddr(), []byte("ping")))
	f := recvOne(t, b)
	assert.Equal(t, []byte("ping"), f.Data)
	assert.Equal(t, a.LocalAddr(), f.From)

	require.NoError(t, b.SendTo(f.From, []byte("pong")))
	assert.Equal(t, []byte("pong"), recvOne(t, a).Data)
}
