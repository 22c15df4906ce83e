package transmitter

import (
	"fmt"
	"time"

	"github.com/taoyao-code/mlab-sync/internal/protocol/mlab"
)

// Phase 单目标握手阶段
type Phase int

const (
	PhasePendingRTT Phase = iota
	PhaseAwaitingRTTAck
	PhasePendingFinal
	PhaseAwaitingFinalAck
	PhaseSucceeded
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhasePendingRTT:
		return "PENDING_RTT"
	case PhaseAwaitingRTTAck:
		return "AWAITING_RTT_ACK"
	case PhasePendingFinal:
		return "PENDING_FINAL"
	case PhaseAwaitingFinalAck:
		return "AWAITING_FINAL_ACK"
	case PhaseSucceeded:
		return "SUCCEEDED"
	case PhaseFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("PHASE(%d)", int(p))
	}
}

// Outcome 会话终态
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// 失败原因
const (
	ReasonExhausted = "retries_exhausted"
	ReasonPreempted = "preempted"
)

// Target 运行中的一个目标设备及其未补偿时长
type Target struct {
	ID      uint8  `json:"id"`
	DelayMs uint32 `json:"delay_ms"`
	PlayMs  uint32 `json:"play_ms"`
}

// Session 发射端对单个目标的一次握手进度
type Session struct {
	TargetID uint8
	DelayMs  uint32
	PlayMs   uint32
	Token    uint32

	Phase    Phase
	Attempts int // 当前阶段已消耗的尝试次数

	LastSendAt        time.Time
	AckDeadline       time.Time
	LastSendTimestamp uint32 // 最近一次发送的 sendTimestamp，ACK 必须回显该值

	RTTUs        uint32
	ProcessingUs uint32
	FailReason   string
}

// Outcome 由阶段推导终态
func (s *Session) Outcome() Outcome {
	switch s.Phase {
	case PhaseSucceeded:
		return OutcomeSucceeded
	case PhaseFailed:
		return OutcomeFailed
	default:
		return OutcomePending
	}
}

// Terminal 是否已终结
func (s *Session) Terminal() bool {
	return s.Phase == PhaseSucceeded || s.Phase == PhaseFailed
}

func (s *Session) awaiting() bool {
	return s.Phase == PhaseAwaitingRTTAck || s.Phase == PhaseAwaitingFinalAck
}

func (s *Session) pending() bool {
	return s.Phase == PhasePendingRTT || s.Phase == PhasePendingFinal
}

// phaseLabel 指标标签
func (s *Session) phaseLabel() string {
	if s.Phase == PhasePendingRTT || s.Phase == PhaseAwaitingRTTAck {
		return "rtt"
	}
	return "final"
}

// due 首次发送立即进行，重发需间隔 retryInterval
func (s *Session) due(now time.Time, retryInterval time.Duration) bool {
	return s.Attempts == 0 || now.Sub(s.LastSendAt) >= retryInterval
}

// packet 根据当前待发阶段构造命令包；RTT 阶段统计值固定为 0
func (s *Session) packet(sendTs uint32) mlab.CommandPacket {
	p := mlab.CommandPacket{
		TargetID:      s.TargetID,
		SequenceToken: s.Token,
		SendTimestamp: sendTs,
		DelayMs:       s.DelayMs,
		PlayMs:        s.PlayMs,
	}
	if s.Phase == PhasePendingRTT {
		p.Type = mlab.RTTRequest
		return p
	}
	p.Type = mlab.FinalCommand
	p.LastKnownRttUs = s.RTTUs
	p.LastKnownProcessingUs = s.ProcessingUs
	return p
}

// SessionView 会话只读快照
type SessionView struct {
	TargetID     uint8   `json:"target_id"`
	Token        uint32  `json:"token"`
	Phase        string  `json:"phase"`
	Outcome      Outcome `json:"outcome"`
	Attempts     int     `json:"attempts"`
	DelayMs      uint32  `json:"delay_ms"`
	PlayMs       uint32  `json:"play_ms"`
	RTTUs        uint32  `json:"rtt_us"`
	ProcessingUs uint32  `json:"processing_us"`
	FailReason   string  `json:"fail_reason,omitempty"`
}

func (s *Session) view() SessionView {
	return SessionView{
		TargetID:     s.TargetID,
		Token:        s.Token,
		Phase:        s.Phase.String(),
		Outcome:      s.Outcome(),
		Attempts:     s.Attempts,
		DelayMs:      s.DelayMs,
		PlayMs:       s.PlayMs,
		RTTUs:        s.RTTUs,
		ProcessingUs: s.ProcessingUs,
		FailReason:   s.FailReason,
	}
}
