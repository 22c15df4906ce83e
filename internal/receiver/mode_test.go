package receiver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" id_set ")
	require.NoError(t, err)
	assert.Equal(t, ModeIDSet, m)

	_, err = ParseMode("wifi")
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestModeGate(t *testing.T) {
	seq, _, _ := newTestSequencer(0)
	mm := NewModeManager(seq, nil)
	assert.True(t, mm.AcceptingCommands())

	accepting := map[Mode]bool{
		ModeNormal: true, ModeIDBlink: true,
		ModeIDSet: false, ModeConfig: false, ModeTest: false, ModeError: false,
	}
	for mode, want := range accepting {
		require.NoError(t, mm.SwitchTo(mode))
		assert.Equal(t, want, mm.AcceptingCommands(), mode.String())
	}
}

func TestEnteringConfigStopsSequence(t *testing.T) {
	for _, mode := range []Mode{ModeIDSet, ModeConfig} {
		seq, _, act := newTestSequencer(0)
		mm := NewModeManager(seq, nil)
		seq.Start(4, 0, 10000)
		require.NoError(t, mm.SwitchTo(mode))
		assert.Equal(t, "IDLE", seq.State().Phase)
		on, _ := act.last()
		assert.False(t, on)
	}

	seq, _, _ := newTestSequencer(0)
	mm := NewModeManager(seq, nil)
	seq.Start(4, 0, 10000)
	require.NoError(t, mm.SwitchTo(ModeTest))
	assert.Equal(t, "ACTIVE", seq.State().Phase)
}

func TestModeSwitchBusy(t *testing.T) {
	seq, _, _ := newTestSequencer(0)
	mm := NewModeManager(seq, nil)
	mm.switching.Lock()
	assert.ErrorIs(t, mm.SwitchTo(ModeConfig), ErrModeBusy)
	mm.switching.Unlock()
	assert.NoError(t, mm.SwitchTo(ModeConfig))
	assert.ErrorIs(t, mm.SwitchTo(Mode(42)), ErrUnknownMode)
}

func TestManualRun(t *testing.T) {
	seq, _, act := newTestSequencer(0)
	mm := NewModeManager(seq, nil)
	assert.ErrorIs(t, mm.ManualRun(0, 1000), ErrNotTestMode)

	require.NoError(t, mm.SwitchTo(ModeTest))
	require.NoError(t, mm.ManualRun(0, 1000))
	assert.False(t, seq.Tracking(0))
	assert.True(t, seq.State().Manual)
	assert.Equal(t, []bool{true}, act.history())

	assert.True(t, mm.Stop())
	assert.False(t, mm.Stop())
}

func TestManualRunIgnoresDeadman(t *testing.T) {
	seq, clk, _ := newTestSequencer(time.Second)
	mm := NewModeManager(seq, nil)
	require.NoError(t, mm.SwitchTo(ModeTest))
	require.NoError(t, mm.ManualRun(0, 5000))

	clk.Advance(3 * time.Second)
	seq.Tick(clk.Now())
	assert.Equal(t, "ACTIVE", seq.State().Phase)

	clk.Advance(2 * time.Second)
	seq.Tick(clk.Now())
	assert.Equal(t, "IDLE", seq.State().Phase)
}

func TestLeavingTestModeReleasesManualRun(t *testing.T) {
	seq, _, act := newTestSequencer(0)
	mm := NewModeManager(seq, nil)
	require.NoError(t, mm.SwitchTo(ModeTest))
	require.NoError(t, mm.ManualRun(0, 10000))

	require.NoError(t, mm.SwitchTo(ModeNormal))
	assert.Equal(t, "IDLE", seq.State().Phase)
	on, _ := act.last()
	assert.False(t, on)

	// 无线令牌 0 不会被当作重传
	assert.True(t, seq.Apply(0, 0, 1000))
	assert.True(t, seq.Tracking(0))
}

func TestModeSwitchWaitsForInFlightCommand(t *testing.T) {
	seq, _, _ := newTestSequencer(0)
	mm := NewModeManager(seq, nil)

	switched := make(chan error, 1)
	ran := mm.RunIfAccepting(func() {
		go func() { switched <- mm.SwitchTo(ModeConfig) }()
		select {
		case err := <-switched:
			t.Errorf("mode switched while command in flight: %v", err)
		case <-time.After(50 * time.Millisecond):
		}
		seq.Apply(7, 1000, 1000)
	})
	require.True(t, ran)

	select {
	case err := <-switched:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("mode switch never completed")
	}
	assert.Equal(t, ModeConfig, mm.Mode())
	assert.Equal(t, "IDLE", seq.State().Phase)
	assert.False(t, mm.RunIfAccepting(func() { t.Error("command executed in CONFIG mode") }))
}
