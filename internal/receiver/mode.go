package receiver

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrModeBusy    = errors.New("mode transition in progress")
	ErrUnknownMode = errors.New("unknown mode")
	ErrNotTestMode = errors.New("manual run requires TEST mode")
)

// Mode 接收端管理模式
type Mode int

const (
	ModeNormal Mode = iota
	ModeIDBlink
	ModeIDSet
	ModeConfig
	ModeTest
	ModeError
)

var modeNames = map[Mode]string{
	ModeNormal:  "NORMAL",
	ModeIDBlink: "ID_BLINK",
	ModeIDSet:   "ID_SET",
	ModeConfig:  "CONFIG",
	ModeTest:    "TEST",
	ModeError:   "ERROR",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("MODE(%d)", int(m))
}

// ParseMode 大小写不敏感
func ParseMode(s string) (Mode, error) {
	want := strings.ToUpper(strings.TrimSpace(s))
	for m, name := range modeNames {
		if name == want {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// acceptsTimed 仅 NORMAL 与 ID_BLINK 执行定时命令
func (m Mode) acceptsTimed() bool {
	return m == ModeNormal || m == ModeIDBlink
}

// stopsSequence 进入该模式时中断正在执行的序列
func (m Mode) stopsSequence() bool {
	return m == ModeIDSet || m == ModeConfig
}

// ModeManager 模式切换（try-lock，忙则丢弃请求）。
// mu 的写锁覆盖模式变更与序列中断，读锁覆盖闸门检查与序列启动。
type ModeManager struct {
	switching sync.Mutex

	mu   sync.RWMutex
	mode Mode

	seq    *Sequencer
	logger *zap.Logger
}

func NewModeManager(seq *Sequencer, logger *zap.Logger) *ModeManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModeManager{seq: seq, logger: logger}
}

// Mode 当前模式
func (mm *ModeManager) Mode() Mode {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return mm.mode
}

// AcceptingCommands 当前模式是否执行定时命令（仅供观测，执行走 RunIfAccepting）
func (mm *ModeManager) AcceptingCommands() bool {
	return mm.Mode().acceptsTimed()
}

// RunIfAccepting 实现 CommandGate；fn 内不得再调用 ModeManager
func (mm *ModeManager) RunIfAccepting(fn func()) bool {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	if !mm.mode.acceptsTimed() {
		return false
	}
	fn()
	return true
}

// SwitchTo 切换模式；另一切换进行中时返回 ErrModeBusy
func (mm *ModeManager) SwitchTo(next Mode) error {
	if _, ok := modeNames[next]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownMode, int(next))
	}
	if !mm.switching.TryLock() {
		return ErrModeBusy
	}
	defer mm.switching.Unlock()

	// 等待进行中的命令处理结束，闸门关闭与序列中断一并完成
	mm.mu.Lock()
	prev := mm.mode
	mm.mode = next
	if next.stopsSequence() && mm.seq != nil {
		mm.seq.Stop(StopMode)
	}
	if prev == ModeTest && next != ModeTest && mm.seq != nil {
		mm.seq.StopManual(StopMode)
	}
	mm.mu.Unlock()

	if prev != next {
		mm.logger.Info("mode switched", zap.Stringer("from", prev), zap.Stringer("to", next))
	}
	return nil
}

// ManualRun TEST 模式下本地启动序列，不占用无线令牌
func (mm *ModeManager) ManualRun(delayMs, playMs uint32) error {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	if mm.mode != ModeTest {
		return ErrNotTestMode
	}
	mm.seq.StartManual(delayMs, playMs)
	return nil
}

// Stop 本地中断（按钮/API）
func (mm *ModeManager) Stop() bool {
	return mm.seq.Stop(StopLocal)
}
