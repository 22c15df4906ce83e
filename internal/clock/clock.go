package clock

import (
	"sync"
	"time"
)

// Clock 本地时钟：墙钟用于截止时间比较，Micros 为 32 位自由运行计数（与固件 micros() 一致，溢出回绕）
type Clock interface {
	Now() time.Time
	Micros() uint32
}

// Real 基于进程启动时刻的单调时钟
type Real struct {
	start time.Time
}

func NewReal() *Real { return &Real{start: time.Now()} }

func (r *Real) Now() time.Time { return time.Now() }

func (r *Real) Micros() uint32 { return uint32(time.Since(r.start).Microseconds()) }

// Fake 测试用可控时钟
type Fake struct {
	mu   sync.Mutex
	base time.Time
	now  time.Time
	// offset 用于模拟不同设备的 micros 起点
	offset uint32
}

// NewFake 创建可控时钟，microsOffset 为 Micros() 的初始值
func NewFake(microsOffset uint32) *Fake {
	base := time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC)
	return &Fake{base: base, now: base, offset: microsOffset}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Micros() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offset + uint32(f.now.Sub(f.base).Microseconds())
}

// Advance 推进时钟
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// ElapsedMicros 回绕安全的 micros 差值
func ElapsedMicros(now, then uint32) uint32 { return now - then }
