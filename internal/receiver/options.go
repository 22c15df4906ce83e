package receiver

import "github.com/taoyao-code/mlab-sync/internal/metrics"

type nodeOptions struct {
	metrics     *metrics.ProtocolMetrics
	onCompleted func(token uint32)
}

type NodeOption func(*nodeOptions)

func WithMetrics(m *metrics.ProtocolMetrics) NodeOption {
	return func(o *nodeOptions) { o.metrics = m }
}

// WithCompletion 序列正常结束回调
func WithCompletion(fn func(token uint32)) NodeOption {
	return func(o *nodeOptions) { o.onCompleted = fn }
}
