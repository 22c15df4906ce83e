package receiver

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/mlab-sync/internal/clock"
	"github.com/taoyao-code/mlab-sync/internal/metrics"
)

// Actuator 执行输出（继电器/电机驱动）
type Actuator interface {
	SetOutput(on bool)
}

// ActuatorFunc 函数适配
type ActuatorFunc func(on bool)

func (f ActuatorFunc) SetOutput(on bool) { f(on) }

// SeqPhase 执行序列阶段
type SeqPhase int

const (
	SeqIdle SeqPhase = iota
	SeqDelay
	SeqActive
)

func (p SeqPhase) String() string {
	switch p {
	case SeqDelay:
		return "DELAY"
	case SeqActive:
		return "ACTIVE"
	default:
		return "IDLE"
	}
}

// 停止原因（同时作为指标标签）
const (
	StopCompleted = "completed"
	StopPreempted = "preempted"
	StopDeadman   = "deadman"
	StopLocal     = "stopped"
	StopMode      = "mode"
)

// SequenceState 序列快照
type SequenceState struct {
	Phase       string    `json:"phase"`
	Token       uint32    `json:"token"`
	Tracking    bool      `json:"tracking"`
	Manual      bool      `json:"manual"`
	DelayEnd    time.Time `json:"delay_end,omitempty"`
	ActiveEnd   time.Time `json:"active_end,omitempty"`
	LastContact time.Time `json:"last_contact,omitempty"`
	OutputOn    bool      `json:"output_on"`
}

// Sequencer 两阶段定时器：延时阶段输出关闭，激活阶段输出打开。
// 阶段边界只在 Tick 中推进；死人开关在激活阶段生效，
// 截止时间为最近一次收到同令牌报文的时刻加 window。
type Sequencer struct {
	mu sync.Mutex

	clk     clock.Clock
	act     Actuator
	window  time.Duration
	logger  *zap.Logger
	metrics *metrics.ProtocolMetrics

	phase       SeqPhase
	token       uint32
	tracking    bool
	manual      bool // 本地手动运行：不跟踪令牌，不受死人开关约束
	delayEnd    time.Time
	activeEnd   time.Time
	lastContact time.Time
	output      bool

	onCompleted func(token uint32)
}

// NewSequencer window<=0 关闭死人开关
func NewSequencer(clk clock.Clock, act Actuator, window time.Duration, logger *zap.Logger, m *metrics.ProtocolMetrics) *Sequencer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sequencer{clk: clk, act: act, window: window, logger: logger, metrics: m}
}

// OnCompleted 激活阶段正常结束时回调
func (s *Sequencer) OnCompleted(fn func(token uint32)) {
	s.mu.Lock()
	s.onCompleted = fn
	s.mu.Unlock()
}

func (s *Sequencer) setOutput(on bool) {
	s.output = on
	if s.act != nil {
		s.act.SetOutput(on)
	}
}

// Start 启动新序列；运行中的旧序列先被停止（输出先关）
func (s *Sequencer) Start(token uint32, delayMs, playMs uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLocked(token, delayMs, playMs)
}

// Apply 令牌与当前跟踪的一致则视为重传，只刷新联络时间并返回 false；否则启动新序列
func (s *Sequencer) Apply(token uint32, delayMs, playMs uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tracking && s.token == token {
		s.lastContact = s.clk.Now()
		return false
	}
	s.startLocked(token, delayMs, playMs)
	return true
}

// StartManual 本地手动启动：不登记令牌，无线命令（含令牌 0）可直接抢占
func (s *Sequencer) StartManual(delayMs, playMs uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLocked(0, delayMs, playMs)
	s.tracking = false
	s.manual = true
}

// StopManual 仅在手动运行中时停止
func (s *Sequencer) StopManual(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.manual || s.phase == SeqIdle {
		return false
	}
	s.stopLocked(reason)
	return true
}

func (s *Sequencer) startLocked(token uint32, delayMs, playMs uint32) {
	if s.phase != SeqIdle {
		s.setOutput(false)
		s.metrics.SequenceEvent(StopPreempted)
		s.logger.Info("sequence preempted", zap.Uint32("old_token", s.token), zap.Uint32("new_token", token))
	}
	now := s.clk.Now()
	s.token = token
	s.tracking = true
	s.manual = false
	s.lastContact = now
	s.delayEnd = now.Add(time.Duration(delayMs) * time.Millisecond)
	s.activeEnd = s.delayEnd.Add(time.Duration(playMs) * time.Millisecond)
	if delayMs > 0 {
		s.phase = SeqDelay
		s.setOutput(false)
	} else {
		s.phase = SeqActive
		s.setOutput(true)
	}
	s.metrics.SequenceEvent("started")
	s.logger.Info("sequence started",
		zap.Uint32("token", token),
		zap.Uint32("delay_ms", delayMs),
		zap.Uint32("play_ms", playMs))
}

// Touch 收到同令牌报文时刷新联络时间
func (s *Sequencer) Touch(token uint32) {
	s.mu.Lock()
	if s.tracking && s.token == token {
		s.lastContact = s.clk.Now()
	}
	s.mu.Unlock()
}

// Tracking 当前是否跟踪该令牌
func (s *Sequencer) Tracking(token uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracking && s.token == token
}

// Stop 无条件关闭输出并回到空闲，清除跟踪令牌；原本空闲时返回 false
func (s *Sequencer) Stop(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == SeqIdle && !s.tracking {
		return false
	}
	s.stopLocked(reason)
	return true
}

func (s *Sequencer) stopLocked(reason string) {
	s.setOutput(false)
	s.logger.Info("sequence stopped", zap.Uint32("token", s.token), zap.String("reason", reason))
	s.metrics.SequenceEvent(reason)
	s.phase = SeqIdle
	s.tracking = false
	s.manual = false
	s.token = 0
}

// Tick 推进阶段边界
func (s *Sequencer) Tick(now time.Time) {
	s.mu.Lock()
	var completed func(uint32)
	var token uint32
	if s.phase == SeqDelay && !now.Before(s.delayEnd) {
		s.phase = SeqActive
		s.lastContact = now
		s.setOutput(true)
		s.logger.Debug("sequence active", zap.Uint32("token", s.token))
	}
	if s.phase == SeqActive {
		switch {
		case !now.Before(s.activeEnd):
			token = s.token
			completed = s.onCompleted
			s.stopLocked(StopCompleted)
		case s.window > 0 && !s.manual && now.Sub(s.lastContact) >= s.window:
			s.logger.Warn("no traffic for running sequence, forcing stop",
				zap.Uint32("token", s.token),
				zap.Duration("window", s.window))
			s.stopLocked(StopDeadman)
		}
	}
	s.mu.Unlock()
	if completed != nil {
		completed(token)
	}
}

// State 当前快照
func (s *Sequencer) State() SequenceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := SequenceState{Phase: s.phase.String(), Token: s.token, Tracking: s.tracking, Manual: s.manual, OutputOn: s.output}
	if s.phase != SeqIdle {
		st.DelayEnd = s.delayEnd
		st.ActiveEnd = s.activeEnd
		st.LastContact = s.lastContact
	}
	return st
}
