package mlab

import (
	"bytes"
	"encoding/binary"
	"errors"
)

var (
	// ErrTooShort 长度不足
	ErrTooShort = errors.New("packet too short")
	// ErrBadSignature 协议签名不匹配
	ErrBadSignature = errors.New("signature mismatch")
	// ErrBadVersion 协议版本不匹配
	ErrBadVersion = errors.New("version mismatch")
	// ErrChecksumMismatch CRC 校验失败
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrUnknownType 未知命令类型
	ErrUnknownType = errors.New("unknown packet type")
)

// 字段偏移
const (
	offVersion = 4

	offCmdType     = 5
	offCmdTarget   = 6
	offCmdToken    = 7
	offCmdSendTs   = 11
	offCmdDelay    = 15
	offCmdPlay     = 19
	offCmdRtt      = 23
	offCmdProc     = 27
	offCmdChecksum = 31

	offAckSender   = 5
	offAckEcho     = 6
	offAckProc     = 10
	offAckChecksum = 14
)

// EncodeCommand 编码命令包（小端，末字节为 CRC-8）
func EncodeCommand(p CommandPacket) []byte {
	buf := make([]byte, CommandSize)
	copy(buf[0:4], Signature[:])
	buf[offVersion] = Version
	buf[offCmdType] = byte(p.Type)
	buf[offCmdTarget] = p.TargetID
	binary.LittleEndian.PutUint32(buf[offCmdToken:], p.SequenceToken)
	binary.LittleEndian.PutUint32(buf[offCmdSendTs:], p.SendTimestamp)
	binary.LittleEndian.PutUint32(buf[offCmdDelay:], p.DelayMs)
	binary.LittleEndian.PutUint32(buf[offCmdPlay:], p.PlayMs)
	binary.LittleEndian.PutUint32(buf[offCmdRtt:], p.LastKnownRttUs)
	binary.LittleEndian.PutUint32(buf[offCmdProc:], p.LastKnownProcessingUs)
	buf[offCmdChecksum] = CalculateChecksum(buf[:offCmdChecksum])
	return buf
}

// DecodeCommand 解码并校验命令包
// 长度按最小值校验，超出部分忽略
func DecodeCommand(data []byte) (*CommandPacket, error) {
	if err := verifyHeader(data, CommandSize); err != nil {
		return nil, err
	}
	pkt := &CommandPacket{
		Type:                  PacketType(data[offCmdType]),
		TargetID:              data[offCmdTarget],
		SequenceToken:         binary.LittleEndian.Uint32(data[offCmdToken:]),
		SendTimestamp:         binary.LittleEndian.Uint32(data[offCmdSendTs:]),
		DelayMs:               binary.LittleEndian.Uint32(data[offCmdDelay:]),
		PlayMs:                binary.LittleEndian.Uint32(data[offCmdPlay:]),
		LastKnownRttUs:        binary.LittleEndian.Uint32(data[offCmdRtt:]),
		LastKnownProcessingUs: binary.LittleEndian.Uint32(data[offCmdProc:]),
	}
	if !pkt.Type.Valid() {
		return nil, ErrUnknownType
	}
	return pkt, nil
}

// EncodeAck 编码确认包
func EncodeAck(p AckPacket) []byte {
	buf := make([]byte, AckSize)
	copy(buf[0:4], Signature[:])
	buf[offVersion] = Version
	buf[offAckSender] = p.SenderID
	binary.LittleEndian.PutUint32(buf[offAckEcho:], p.EchoedSendTimestamp)
	binary.LittleEndian.PutUint32(buf[offAckProc:], p.ProcessingTimeUs)
	buf[offAckChecksum] = CalculateChecksum(buf[:offAckChecksum])
	return buf
}

// DecodeAck 解码并校验确认包
func DecodeAck(data []byte) (*AckPacket, error) {
	if err := verifyHeader(data, AckSize); err != nil {
		return nil, err
	}
	return &AckPacket{
		SenderID:            data[offAckSender],
		EchoedSendTimestamp: binary.LittleEndian.Uint32(data[offAckEcho:]),
		ProcessingTimeUs:    binary.LittleEndian.Uint32(data[offAckProc:]),
	}, nil
}

// verifyHeader 依次校验长度、签名、版本、CRC
func verifyHeader(data []byte, size int) error {
	if len(data) < size {
		return ErrTooShort
	}
	if !bytes.Equal(data[0:4], Signature[:]) {
		return ErrBadSignature
	}
	if data[offVersion] != Version {
		return ErrBadVersion
	}
	return VerifyChecksum(data[:size])
}

// RejectReason 将解码错误归类为指标标签
func RejectReason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTooShort):
		return "length"
	case errors.Is(err, ErrBadSignature):
		return "signature"
	case errors.Is(err, ErrBadVersion):
		return "version"
	case errors.Is(err, ErrChecksumMismatch):
		return "checksum"
	case errors.Is(err, ErrUnknownType):
		return "type"
	default:
		return "other"
	}
}
