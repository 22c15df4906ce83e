package app

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// InstanceID 生成进程实例ID，优先使用环境变量 MLAB_INSTANCE_ID。
// 格式：mlab-{role}-{hostname}-{uuid前8位}
func InstanceID(role string) string {
	if id := os.Getenv("MLAB_INSTANCE_ID"); id != "" {
		return id
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("mlab-%s-%s-%s", role, hostname, uuid.New().String()[:8])
}
