package transmitter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taoyao-code/mlab-sync/internal/clock"
	"github.com/taoyao-code/mlab-sync/internal/config"
	"github.com/taoyao-code/mlab-sync/internal/metrics"
	"github.com/taoyao-code/mlab-sync/internal/protocol/mlab"
	"github.com/taoyao-code/mlab-sync/internal/radio"
)

var (
	ErrNoTargets      = errors.New("run has no targets")
	ErrInvalidTarget  = errors.New("invalid target id")
	ErrDuplicateToken = errors.New("token already in use by an active run")
)

// maxQueuedAcks 回调侧缓存的 ACK 上限，超出丢弃最旧
const maxQueuedAcks = 256

// Broadcaster 发射端只需要广播能力
type Broadcaster interface {
	Broadcast(data []byte) error
}

// TargetOutcome 单目标最终结果
type TargetOutcome struct {
	TargetID     uint8   `json:"target_id"`
	Outcome      Outcome `json:"outcome"`
	Reason       string  `json:"reason,omitempty"`
	RTTUs        uint32  `json:"rtt_us"`
	ProcessingUs uint32  `json:"processing_us"`
	DelayMs      uint32  `json:"delay_ms"`
	PlayMs       uint32  `json:"play_ms"`
}

// RunReport 运行结算报告，所有会话终结后生成一次
type RunReport struct {
	ID        string          `json:"id"`
	Token     uint32          `json:"token"`
	StartedAt time.Time       `json:"started_at"`
	SettledAt time.Time       `json:"settled_at"`
	Targets   []TargetOutcome `json:"targets"`
}

// Succeeded 成功目标数
func (r RunReport) Succeeded() int {
	n := 0
	for _, t := range r.Targets {
		if t.Outcome == OutcomeSucceeded {
			n++
		}
	}
	return n
}

// Observer 运行结算回调
type Observer interface {
	OnRunSettled(report RunReport)
}

type ObserverFunc func(report RunReport)

func (f ObserverFunc) OnRunSettled(report RunReport) {
	if f != nil {
		f(report)
	}
}

type ackEvent struct {
	ack     mlab.AckPacket
	at      time.Time
	arrival uint32
}

type run struct {
	id        string
	token     uint32
	startedAt time.Time
	sessions  []*Session
}

// Manager 发射端会话管理：每 tick 处理 ACK 与超时，最多发送一个包
type Manager struct {
	mu sync.Mutex

	cfg     config.ProtocolConfig
	link    Broadcaster
	clk     clock.Clock
	logger  *zap.Logger
	metrics *metrics.ProtocolMetrics

	runs      []*run
	live      []*Session // 未终结会话，轮询发送顺序
	cursor    int
	acks      []ackEvent
	observers []Observer
	last      *RunReport
}

type Option func(*Manager)

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithMetrics(pm *metrics.ProtocolMetrics) Option {
	return func(m *Manager) { m.metrics = pm }
}

func WithObserver(o Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.observers = append(m.observers, o)
		}
	}
}

// NewManager 创建会话管理器
func NewManager(cfg config.ProtocolConfig, link Broadcaster, clk clock.Clock, opts ...Option) *Manager {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 20 * time.Millisecond
	}
	m := &Manager{cfg: cfg, link: link, clk: clk, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddObserver 追加结算回调（需在 Run 之前调用）
func (m *Manager) AddObserver(o Observer) {
	m.mu.Lock()
	m.observers = append(m.observers, o)
	m.mu.Unlock()
}

// StartRun 为每个目标创建 PENDING_RTT 会话；同一目标的未终结会话被抢占
func (m *Manager) StartRun(targets []Target, token uint32) (string, error) {
	if len(targets) == 0 {
		return "", ErrNoTargets
	}
	seen := make(map[uint8]bool, len(targets))
	for _, t := range targets {
		if t.ID == mlab.BroadcastTarget {
			return "", fmt.Errorf("%w: %d", ErrInvalidTarget, t.ID)
		}
		if seen[t.ID] {
			return "", fmt.Errorf("%w: duplicate %d", ErrInvalidTarget, t.ID)
		}
		seen[t.ID] = true
	}

	now := m.clk.Now()
	m.mu.Lock()
	for _, r := range m.runs {
		if r.token == token {
			m.mu.Unlock()
			return "", ErrDuplicateToken
		}
	}

	for _, s := range m.live {
		if seen[s.TargetID] {
			s.Phase = PhaseFailed
			s.FailReason = ReasonPreempted
			m.outcome(s)
			m.logger.Info("session preempted",
				zap.Uint8("target", s.TargetID),
				zap.Uint32("old_token", s.Token),
				zap.Uint32("new_token", token))
		}
	}

	r := &run{id: uuid.NewString(), token: token, startedAt: now}
	for _, t := range targets {
		s := &Session{
			TargetID: t.ID,
			DelayMs:  t.DelayMs,
			PlayMs:   t.PlayMs,
			Token:    token,
			Phase:    PhasePendingRTT,
		}
		r.sessions = append(r.sessions, s)
	}
	m.runs = append(m.runs, r)
	m.compactLive()
	m.live = append(m.live, r.sessions...)
	reports := m.settle(now)
	m.mu.Unlock()

	m.logger.Info("run started",
		zap.String("run_id", r.id),
		zap.Uint32("token", token),
		zap.Int("targets", len(targets)))
	m.notify(reports)
	return r.id, nil
}

// StartRunNow 以本地 micros 作为令牌启动运行
func (m *Manager) StartRunNow(targets []Target) (string, uint32, error) {
	token := m.clk.Micros()
	id, err := m.StartRun(targets, token)
	return id, token, err
}

// OnAck 记录 ACK 与到达时刻，匹配在下一次 Tick 中进行
func (m *Manager) OnAck(ack mlab.AckPacket, at time.Time, arrivalMicros uint32) {
	m.mu.Lock()
	if len(m.acks) >= maxQueuedAcks {
		m.acks = m.acks[1:]
	}
	m.acks = append(m.acks, ackEvent{ack: ack, at: at, arrival: arrivalMicros})
	m.mu.Unlock()
}

// HandleFrame 解码入站帧并记录 ACK
func (m *Manager) HandleFrame(f radio.Frame) {
	ack, err := mlab.DecodeAck(f.Data)
	if err != nil {
		m.metrics.Rejected(mlab.RejectReason(err))
		m.logger.Debug("ack rejected", zap.String("from", string(f.From)), zap.Error(err))
		return
	}
	m.metrics.Received("ACK")
	m.OnAck(*ack, f.At, f.Micros)
}

// Tick 推进所有会话：匹配 ACK、处理超时、最多发送一个包
func (m *Manager) Tick(now time.Time) {
	m.mu.Lock()
	m.drainAcks()
	m.expire(now)
	m.sendOne(now)
	reports := m.settle(now)
	m.mu.Unlock()
	m.notify(reports)
}

func (m *Manager) drainAcks() {
	acks := m.acks
	m.acks = nil
	for _, ev := range acks {
		s := m.match(ev)
		if s == nil {
			if m.metrics != nil {
				m.metrics.AcksStale.Inc()
			}
			m.logger.Debug("stale ack ignored",
				zap.Uint8("sender", ev.ack.SenderID),
				zap.Uint32("echo", ev.ack.EchoedSendTimestamp))
			continue
		}
		if m.metrics != nil {
			m.metrics.AcksMatched.Inc()
		}
		switch s.Phase {
		case PhaseAwaitingRTTAck:
			s.RTTUs = clock.ElapsedMicros(ev.arrival, ev.ack.EchoedSendTimestamp)
			s.ProcessingUs = ev.ack.ProcessingTimeUs
			s.Phase = PhasePendingFinal
			s.Attempts = 0
			if m.metrics != nil {
				m.metrics.RTTMicros.Observe(float64(s.RTTUs))
			}
			m.logger.Debug("rtt measured",
				zap.Uint8("target", s.TargetID),
				zap.Uint32("rtt_us", s.RTTUs),
				zap.Uint32("processing_us", s.ProcessingUs))
		case PhaseAwaitingFinalAck:
			s.Phase = PhaseSucceeded
			m.outcome(s)
			m.logger.Info("target confirmed", zap.Uint8("target", s.TargetID), zap.Uint32("token", s.Token))
		}
	}
}

// match 发送方一致、回显时间戳一致且在截止前到达
func (m *Manager) match(ev ackEvent) *Session {
	for _, s := range m.live {
		if !s.awaiting() || s.TargetID != ev.ack.SenderID {
			continue
		}
		if s.LastSendTimestamp != ev.ack.EchoedSendTimestamp {
			continue
		}
		if ev.at.After(s.AckDeadline) {
			continue
		}
		return s
	}
	return nil
}

func (m *Manager) expire(now time.Time) {
	for _, s := range m.live {
		if !s.awaiting() || now.Before(s.AckDeadline) {
			continue
		}
		label := s.phaseLabel()
		if s.Phase == PhaseAwaitingRTTAck {
			s.Phase = PhasePendingRTT
		} else {
			s.Phase = PhasePendingFinal
		}
		m.consumeAttempt(s, label, "ack timeout")
	}
}

func (m *Manager) consumeAttempt(s *Session, label, cause string) {
	s.Attempts++
	if m.metrics != nil {
		m.metrics.HandshakeRetries.WithLabelValues(label).Inc()
	}
	if s.Attempts >= m.cfg.MaxAttempts {
		s.Phase = PhaseFailed
		s.FailReason = ReasonExhausted
		m.outcome(s)
		m.logger.Warn("target failed",
			zap.Uint8("target", s.TargetID),
			zap.Uint32("token", s.Token),
			zap.String("phase", label),
			zap.String("cause", cause),
			zap.Int("attempts", s.Attempts))
	}
}

// sendOne 从游标开始轮询，发送第一个到期的待发会话
func (m *Manager) sendOne(now time.Time) {
	n := len(m.live)
	for i := 0; i < n; i++ {
		idx := (m.cursor + i) % n
		s := m.live[idx]
		if !s.pending() || !s.due(now, m.cfg.RetryInterval) {
			continue
		}
		m.cursor = (idx + 1) % n
		m.send(s, now)
		return
	}
}

func (m *Manager) send(s *Session, now time.Time) {
	label := s.phaseLabel()
	sendTs := m.clk.Micros()
	pkt := s.packet(sendTs)
	err := m.link.Broadcast(mlab.EncodeCommand(pkt))
	m.metrics.Sent(pkt.Type.String(), err)
	s.LastSendAt = now
	if err != nil {
		m.logger.Warn("broadcast failed",
			zap.Uint8("target", s.TargetID),
			zap.String("type", pkt.Type.String()),
			zap.Error(err))
		m.consumeAttempt(s, label, "send error")
		return
	}
	s.LastSendTimestamp = sendTs
	s.AckDeadline = now.Add(m.cfg.AckTimeout)
	if s.Phase == PhasePendingRTT {
		s.Phase = PhaseAwaitingRTTAck
	} else {
		s.Phase = PhaseAwaitingFinalAck
	}
	m.logger.Debug("command sent",
		zap.Uint8("target", s.TargetID),
		zap.String("type", pkt.Type.String()),
		zap.Uint32("send_ts", sendTs),
		zap.Int("attempt", s.Attempts+1))
}

func (m *Manager) outcome(s *Session) {
	if m.metrics != nil {
		m.metrics.SessionOutcomes.WithLabelValues(string(s.Outcome())).Inc()
	}
}

// compactLive 移除已终结会话并修正游标
func (m *Manager) compactLive() {
	kept := m.live[:0]
	for i, s := range m.live {
		if s.Terminal() {
			if i < m.cursor {
				m.cursor--
			}
			continue
		}
		kept = append(kept, s)
	}
	for i := len(kept); i < len(m.live); i++ {
		m.live[i] = nil
	}
	m.live = kept
	if m.cursor >= len(m.live) {
		m.cursor = 0
	}
}

// settle 收集全部终结的运行
func (m *Manager) settle(now time.Time) []RunReport {
	m.compactLive()
	if m.metrics != nil {
		m.metrics.ActiveSessions.Set(float64(len(m.live)))
	}
	var reports []RunReport
	kept := m.runs[:0]
	for _, r := range m.runs {
		done := true
		for _, s := range r.sessions {
			if !s.Terminal() {
				done = false
				break
			}
		}
		if !done {
			kept = append(kept, r)
			continue
		}
		rep := RunReport{ID: r.id, Token: r.token, StartedAt: r.startedAt, SettledAt: now}
		for _, s := range r.sessions {
			rep.Targets = append(rep.Targets, TargetOutcome{
				TargetID:     s.TargetID,
				Outcome:      s.Outcome(),
				Reason:       s.FailReason,
				RTTUs:        s.RTTUs,
				ProcessingUs: s.ProcessingUs,
				DelayMs:      s.DelayMs,
				PlayMs:       s.PlayMs,
			})
		}
		reports = append(reports, rep)
		last := rep
		m.last = &last
		if m.metrics != nil {
			m.metrics.RunsSettled.Inc()
		}
	}
	for i := len(kept); i < len(m.runs); i++ {
		m.runs[i] = nil
	}
	m.runs = kept
	return reports
}

func (m *Manager) notify(reports []RunReport) {
	if len(reports) == 0 {
		return
	}
	m.mu.Lock()
	observers := append([]Observer(nil), m.observers...)
	m.mu.Unlock()
	for _, rep := range reports {
		m.logger.Info("run settled",
			zap.String("run_id", rep.ID),
			zap.Uint32("token", rep.Token),
			zap.Int("targets", len(rep.Targets)),
			zap.Int("succeeded", rep.Succeeded()))
		for _, o := range observers {
			o.OnRunSettled(rep)
		}
	}
}

// Busy 是否存在未结算运行
func (m *Manager) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs) > 0
}

// Snapshot 当前未结算运行中所有会话（含已终结的）
func (m *Manager) Snapshot() []SessionView {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SessionView
	for _, r := range m.runs {
		for _, s := range r.sessions {
			out = append(out, s.view())
		}
	}
	return out
}

// LastReport 最近一次结算报告
func (m *Manager) LastReport() (RunReport, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return RunReport{}, false
	}
	return *m.last, true
}

// Run 事件循环：入站帧与定时 Tick
func (m *Manager) Run(ctx context.Context, frames <-chan radio.Frame) error {
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-frames:
			if !ok {
				return radio.ErrClosed
			}
			m.HandleFrame(f)
		case <-ticker.C:
			m.Tick(m.clk.Now())
		}
	}
}
