package receiver

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/mlab-sync/internal/clock"
	"github.com/taoyao-code/mlab-sync/internal/radio"
)

// Node 接收端运行时：入站帧交给解释器，定时推进序列
type Node struct {
	Interpreter *Interpreter
	Sequencer   *Sequencer
	Modes       *ModeManager
	Identity    *Identity

	clk    clock.Clock
	tick   time.Duration
	logger *zap.Logger
}

// NodeStatus 状态快照
type NodeStatus struct {
	DeviceID uint8         `json:"device_id"`
	Mode     string        `json:"mode"`
	Sequence SequenceState `json:"sequence"`
}

// NewNode 组装解释器、序列器、模式与身份
func NewNode(identity *Identity, link AckSender, act Actuator, clk clock.Clock, tick, deadman time.Duration, logger *zap.Logger, opts ...NodeOption) *Node {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tick <= 0 {
		tick = 20 * time.Millisecond
	}
	o := nodeOptions{}
	for _, fn := range opts {
		fn(&o)
	}
	seq := NewSequencer(clk, act, deadman, logger.Named("sequencer"), o.metrics)
	modes := NewModeManager(seq, logger.Named("mode"))
	in := NewInterpreter(identity.DeviceID(), link, seq, modes, clk, logger.Named("interpreter"), o.metrics)
	identity.OnChange(in.OnIDChanged)
	if o.onCompleted != nil {
		seq.OnCompleted(o.onCompleted)
	}
	return &Node{
		Interpreter: in,
		Sequencer:   seq,
		Modes:       modes,
		Identity:    identity,
		clk:         clk,
		tick:        tick,
		logger:      logger,
	}
}

// Status 当前状态
func (n *Node) Status() NodeStatus {
	return NodeStatus{
		DeviceID: n.Interpreter.LocalDeviceID(),
		Mode:     n.Modes.Mode().String(),
		Sequence: n.Sequencer.State(),
	}
}

// Run 事件循环；退出时关闭输出
func (n *Node) Run(ctx context.Context, frames <-chan radio.Frame) error {
	ticker := time.NewTicker(n.tick)
	defer ticker.Stop()
	defer n.Sequencer.Stop(StopLocal)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-frames:
			if !ok {
				return radio.ErrClosed
			}
			n.Interpreter.HandleFrame(f)
		case <-ticker.C:
			n.Sequencer.Tick(n.clk.Now())
		}
	}
}
