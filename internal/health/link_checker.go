package health

import (
	"context"
	"fmt"
	"time"

	"github.com/taoyao-code/mlab-sync/internal/radio"
)

// LinkStatser 可提供统计的链路
type LinkStatser interface {
	Stats() radio.LinkStats
}

// LinkChecker 广播链路检查：入站队列积压与限流丢弃
type LinkChecker struct {
	link LinkStatser
}

func NewLinkChecker(link LinkStatser) *LinkChecker {
	return &LinkChecker{link: link}
}

func (c *LinkChecker) Name() string { return "radio" }

func (c *LinkChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	st := c.link.Stats()
	if st.Closed {
		return CheckResult{Status: StatusUnhealthy, Message: "link closed", Latency: time.Since(start)}
	}

	utilization := 0.0
	if st.QueueCap > 0 {
		utilization = float64(st.QueueLen) / float64(st.QueueCap)
	}
	// 队列满时仍可服务（新帧被丢弃），只降级
	status, msg := utilizationStatus(utilization, 0.8, 2)

	details := map[string]interface{}{
		"queue_len":   st.QueueLen,
		"queue_cap":   st.QueueCap,
		"utilization": fmt.Sprintf("%.1f%%", utilization*100),
	}
	if st.Limiter != nil {
		details["limit_per_second"] = st.Limiter.PerSecond
		details["limited_peers"] = st.Limiter.Peers
		details["rate_limited_total"] = st.Limiter.DroppedTotal
	}
	msg = "inbound queue " + msg
	if st.Breaker != nil {
		details["send_breaker"] = st.Breaker.State
		details["send_trips"] = st.Breaker.Trips
		// 熔断打开时无法发送
		switch st.Breaker.State {
		case "open":
			status, msg = StatusUnhealthy, "send circuit open"
		case "half_open":
			if status == StatusHealthy {
				status, msg = StatusDegraded, "send circuit probing"
			}
		}
	}
	return CheckResult{Status: status, Message: msg, Details: details, Latency: time.Since(start)}
}
