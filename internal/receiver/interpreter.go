package receiver

import (
	"sync"

	"go.uber.org/zap"

	"github.com/taoyao-code/mlab-sync/internal/clock"
	"github.com/taoyao-code/mlab-sync/internal/metrics"
	"github.com/taoyao-code/mlab-sync/internal/protocol/mlab"
	"github.com/taoyao-code/mlab-sync/internal/radio"
)

// AckSender 单播回复
type AckSender interface {
	SendTo(addr radio.Addr, data []byte) error
}

// CommandGate 管理模式闸门：接受定时命令时在闸门锁内执行 fn 并返回 true，
// 否则不执行（仍回 ACK）。模式切换与 fn 互斥。
type CommandGate interface {
	RunIfAccepting(fn func()) bool
}

// Decision 单帧处理结果
type Decision int

const (
	DecisionRejected  Decision = iota // 解码失败
	DecisionIgnored                   // 非本机地址
	DecisionRTTAcked                  // RTT 请求，仅回 ACK
	DecisionGated                     // 管理模式下仅回 ACK
	DecisionDuplicate                 // 同令牌重传
	DecisionStarted                   // 新运行
)

func (d Decision) String() string {
	switch d {
	case DecisionRejected:
		return "rejected"
	case DecisionIgnored:
		return "ignored"
	case DecisionRTTAcked:
		return "rtt_acked"
	case DecisionGated:
		return "gated"
	case DecisionDuplicate:
		return "duplicate"
	case DecisionStarted:
		return "started"
	default:
		return "unknown"
	}
}

// Compensate 扣除单程时延与接收端处理时间后的本地延时，下限 0
func Compensate(delayMs, rttUs, processingUs uint32) uint32 {
	compMs := (uint64(rttUs)/2 + uint64(processingUs)) / 1000
	if compMs >= uint64(delayMs) {
		return 0
	}
	return delayMs - uint32(compMs)
}

// Interpreter 命令解释器：过滤地址、去重、计算补偿并驱动序列
type Interpreter struct {
	mu      sync.RWMutex
	localID uint8

	link    AckSender
	seq     *Sequencer
	gate    CommandGate
	clk     clock.Clock
	logger  *zap.Logger
	metrics *metrics.ProtocolMetrics
}

// NewInterpreter gate 为 nil 时始终接受命令
func NewInterpreter(localID uint8, link AckSender, seq *Sequencer, gate CommandGate, clk clock.Clock, logger *zap.Logger, m *metrics.ProtocolMetrics) *Interpreter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Interpreter{localID: localID, link: link, seq: seq, gate: gate, clk: clk, logger: logger, metrics: m}
}

// LocalDeviceID 当前过滤用 ID
func (in *Interpreter) LocalDeviceID() uint8 {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.localID
}

// OnIDChanged 立即更新地址过滤
func (in *Interpreter) OnIDChanged(id uint8) {
	in.mu.Lock()
	old := in.localID
	in.localID = id
	in.mu.Unlock()
	in.logger.Info("device id changed", zap.Uint8("old", old), zap.Uint8("new", id))
}

func (in *Interpreter) runGated(fn func()) bool {
	if in.gate == nil {
		fn()
		return true
	}
	return in.gate.RunIfAccepting(fn)
}

// HandleFrame 处理一帧入站命令
func (in *Interpreter) HandleFrame(f radio.Frame) Decision {
	pkt, err := mlab.DecodeCommand(f.Data)
	if err != nil {
		in.metrics.Rejected(mlab.RejectReason(err))
		in.logger.Debug("command rejected", zap.String("from", string(f.From)), zap.Error(err))
		return DecisionRejected
	}
	in.metrics.Received(pkt.Type.String())

	localID := in.LocalDeviceID()
	if !pkt.AddressedTo(localID) {
		return DecisionIgnored
	}

	var d Decision
	if pkt.Type == mlab.RTTRequest {
		in.seq.Touch(pkt.SequenceToken)
		d = DecisionRTTAcked
	} else {
		adjusted := Compensate(pkt.DelayMs, pkt.LastKnownRttUs, pkt.LastKnownProcessingUs)
		started := false
		accepted := in.runGated(func() {
			started = in.seq.Apply(pkt.SequenceToken, adjusted, pkt.PlayMs)
		})
		switch {
		case !accepted:
			d = DecisionGated
		case started:
			d = DecisionStarted
			in.logger.Info("final command accepted",
				zap.Uint32("token", pkt.SequenceToken),
				zap.Uint32("delay_ms", pkt.DelayMs),
				zap.Uint32("adjusted_delay_ms", adjusted),
				zap.Uint32("play_ms", pkt.PlayMs))
		default:
			d = DecisionDuplicate
			in.metrics.SequenceEvent("duplicate")
			in.logger.Debug("duplicate final command", zap.Uint32("token", pkt.SequenceToken))
		}
	}

	in.ack(f, pkt, localID)
	return d
}

func (in *Interpreter) ack(f radio.Frame, pkt *mlab.CommandPacket, localID uint8) {
	ack := mlab.AckPacket{
		SenderID:            localID,
		EchoedSendTimestamp: pkt.SendTimestamp,
		ProcessingTimeUs:    clock.ElapsedMicros(in.clk.Micros(), f.Micros),
	}
	err := in.link.SendTo(f.From, mlab.EncodeAck(ack))
	in.metrics.Sent("ACK", err)
	if err != nil {
		in.logger.Warn("ack send failed", zap.String("to", string(f.From)), zap.Error(err))
	}
}
