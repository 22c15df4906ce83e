package health

import "sync/atomic"

// Readiness 启动阶段就绪标记：链路打开且循环运行后才就绪
type Readiness struct {
	linkReady atomic.Bool
	loopReady atomic.Bool
}

func New() *Readiness { return &Readiness{} }

func (r *Readiness) SetLinkReady(v bool) { r.linkReady.Store(v) }
func (r *Readiness) SetLoopReady(v bool) { r.loopReady.Store(v) }

// Ready 各阶段均为 true
func (r *Readiness) Ready() bool {
	return r.linkReady.Load() && r.loopReady.Load()
}
