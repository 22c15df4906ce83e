package receiver_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/mlab-sync/internal/clock"
	"github.com/taoyao-code/mlab-sync/internal/config"
	"github.com/taoyao-code/mlab-sync/internal/radio"
	"github.com/taoyao-code/mlab-sync/internal/receiver"
	"github.com/taoyao-code/mlab-sync/internal/transmitter"
)

type outputLog struct{ calls []bool }

func (o *outputLog) SetOutput(on bool) { o.calls = append(o.calls, on) }

type rxNode struct {
	node *receiver.Node
	link *radio.BusLink
	out  *outputLog
}

func drain(ch <-chan radio.Frame, fn func(radio.Frame)) {
	for {
		select {
		case f := <-ch:
			fn(f)
		default:
			return
		}
	}
}

func TestTransmitterDrivesReceiversOverBus(t *testing.T) {
	clk := clock.NewFake(1000)
	bus := radio.NewBus(clk, radio.FaultConfig{}, nil, nil)
	// 设备 2 的 ACK 全部丢失
	bus.SetDropFunc(func(from, to radio.Addr, _ []byte) bool { return from == "rx2" && to == "tx" })

	txLink := bus.Endpoint("tx", 64)
	var reports []transmitter.RunReport
	mgr := transmitter.NewManager(config.ProtocolConfig{
		TickInterval:  20 * time.Millisecond,
		AckTimeout:    200 * time.Millisecond,
		RetryInterval: 300 * time.Millisecond,
		MaxAttempts:   5,
	}, txLink, clk, transmitter.WithObserver(transmitter.ObserverFunc(func(r transmitter.RunReport) {
		reports = append(reports, r)
	})))

	nodes := map[uint8]*rxNode{}
	completed := map[uint8]int{}
	for id := uint8(1); id <= 3; id++ {
		id := id
		identity, err := receiver.NewIdentity(context.Background(), receiver.NewMemoryIdentityStore(), id, nil)
		require.NoError(t, err)
		link := bus.Endpoint(radio.Addr(fmt.Sprintf("rx%d", id)), 64)
		out := &outputLog{}
		node := receiver.NewNode(identity, link, out, clk, 20*time.Millisecond, 5*time.Second, nil,
			receiver.WithCompletion(func(uint32) { completed[id]++ }))
		nodes[id] = &rxNode{node: node, link: link, out: out}
	}

	_, err := mgr.StartRun([]transmitter.Target{
		{ID: 1, DelayMs: 2000, PlayMs: 1000},
		{ID: 2, DelayMs: 2000, PlayMs: 1000},
		{ID: 3, DelayMs: 2000, PlayMs: 1000},
	}, 31337)
	require.NoError(t, err)

	for i := 0; i < 300; i++ {
		clk.Advance(20 * time.Millisecond)
		now := clk.Now()
		for id := uint8(1); id <= 3; id++ {
			n := nodes[id]
			drain(n.link.Frames(), func(f radio.Frame) { n.node.Interpreter.HandleFrame(f) })
			n.node.Sequencer.Tick(now)
		}
		drain(txLink.Frames(), mgr.HandleFrame)
		mgr.Tick(now)
	}

	require.Len(t, reports, 1)
	outcomes := map[uint8]transmitter.Outcome{}
	for _, o := range reports[0].Targets {
		outcomes[o.TargetID] = o.Outcome
	}
	assert.Equal(t, transmitter.OutcomeSucceeded, outcomes[1])
	assert.Equal(t, transmitter.OutcomeFailed, outcomes[2])
	assert.Equal(t, transmitter.OutcomeSucceeded, outcomes[3])

	for _, id := range []uint8{1, 3} {
		assert.Equal(t, []bool{false, true, false}, nodes[id].out.calls, "device %d", id)
		assert.Equal(t, 1, completed[id])
	}
	// 设备 2 只收到 RTT 请求，从未执行
	assert.Empty(t, nodes[2].out.calls)
	assert.Equal(t, "IDLE", nodes[2].node.Status().Sequence.Phase)
}

type timedOutput struct {
	clk *clock.Fake
	on  []time.Time
}

func (o *timedOutput) SetOutput(on bool) {
	if on {
		o.on = append(o.on, o.clk.Now())
	}
}

func TestCompensationUsesMeasuredRoundTrip(t *testing.T) {
	const hop = 40 * time.Millisecond
	clk := clock.NewFake(1000)
	bus := radio.NewBus(clk, radio.FaultConfig{Delay: hop}, nil, nil)

	txLink := bus.Endpoint("tx", 64)
	var reports []transmitter.RunReport
	mgr := transmitter.NewManager(config.ProtocolConfig{
		TickInterval:  20 * time.Millisecond,
		AckTimeout:    200 * time.Millisecond,
		RetryInterval: 300 * time.Millisecond,
		MaxAttempts:   5,
	}, txLink, clk, transmitter.WithObserver(transmitter.ObserverFunc(func(r transmitter.RunReport) {
		reports = append(reports, r)
	})))

	identity, err := receiver.NewIdentity(context.Background(), receiver.NewMemoryIdentityStore(), 4, nil)
	require.NoError(t, err)
	rxLink := bus.Endpoint("rx4", 64)
	out := &timedOutput{clk: clk}
	node := receiver.NewNode(identity, rxLink, out, clk, 20*time.Millisecond, 5*time.Second, nil)

	_, err = mgr.StartRun([]transmitter.Target{{ID: 4, DelayMs: 2000, PlayMs: 1000}}, 99)
	require.NoError(t, err)

	var finalAt time.Time
	for i := 0; i < 200; i++ {
		clk.Advance(20 * time.Millisecond)
		now := clk.Now()
		bus.Pump()
		drain(rxLink.Frames(), func(f radio.Frame) {
			if node.Interpreter.HandleFrame(f) == receiver.DecisionStarted {
				finalAt = now
			}
		})
		node.Sequencer.Tick(now)
		drain(txLink.Frames(), mgr.HandleFrame)
		mgr.Tick(now)
	}

	require.Len(t, reports, 1)
	require.Len(t, reports[0].Targets, 1)
	target := reports[0].Targets[0]
	assert.Equal(t, transmitter.OutcomeSucceeded, target.Outcome)
	// 往返两跳，接收端同一时刻回 ACK
	assert.Equal(t, uint32(2*hop/time.Microsecond), target.RTTUs)
	assert.Zero(t, target.ProcessingUs)

	require.False(t, finalAt.IsZero())
	require.Len(t, out.on, 1)
	// 延时阶段扣除 RTT/2 + 处理时间
	assert.Equal(t, 2000*time.Millisecond-hop, out.on[0].Sub(finalAt))
}
