package mlab

import "fmt"

// 协议常量
const (
	Version byte = 0x03

	CommandSize = 32 // CommandPacket 固定长度
	AckSize     = 15 // AckPacket 固定长度

	// BroadcastTarget targetId=0 表示所有接收端
	BroadcastTarget uint8 = 0
)

// Signature 协议族标识 "MLAB"
var Signature = [4]byte{'M', 'L', 'A', 'B'}

// PacketType 命令包类型
type PacketType uint8

const (
	RTTRequest   PacketType = 0x01
	FinalCommand PacketType = 0x02
)

func (t PacketType) String() string {
	switch t {
	case RTTRequest:
		return "RTT_REQUEST"
	case FinalCommand:
		return "FINAL_COMMAND"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(t))
	}
}

// Valid 是否为已知类型
func (t PacketType) Valid() bool {
	return t == RTTRequest || t == FinalCommand
}

// CommandPacket 发射端 -> 接收端（广播）
// 格式：sig(4) + ver(1) + type(1) + target(1) + token(4) + sendTs(4) + delay(4) + play(4) + rtt(4) + proc(4) + crc(1)
type CommandPacket struct {
	Type                  PacketType
	TargetID              uint8
	SequenceToken         uint32 // 触发按键时刻的发射端 micros，运行的关联/去重键
	SendTimestamp         uint32 // 发送时刻的发射端 micros，ACK 原样回显
	DelayMs               uint32 // 未补偿的前置延时
	PlayMs                uint32 // 激活时长
	LastKnownRttUs        uint32 // RTT 阶段测得的往返时间，RTT_REQUEST 中为 0
	LastKnownProcessingUs uint32 // RTT 阶段测得的接收端处理时间，RTT_REQUEST 中为 0
}

// AddressedTo 判断命令是否发给 localID（0 为通配）
func (p *CommandPacket) AddressedTo(localID uint8) bool {
	return Addressed(p.TargetID, localID)
}

// Addressed targetID 为 0 或与本机 ID 相同时视为匹配
func Addressed(targetID, localID uint8) bool {
	return targetID == BroadcastTarget || targetID == localID
}

// AckPacket 接收端 -> 发射端（单播）
// 格式：sig(4) + ver(1) + sender(1) + echoTs(4) + proc(4) + crc(1)
type AckPacket struct {
	SenderID            uint8
	EchoedSendTimestamp uint32
	ProcessingTimeUs    uint32
}
