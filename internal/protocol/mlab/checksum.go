package mlab

// crcTable CRC-8/MAXIM（反射多项式 0x8C，初值 0x00）查找表
// 算法属于协议契约：任何改动都必须提升 Version
var crcTable = func() [256]byte {
	var t [256]byte
	for i := 0; i < 256; i++ {
		crc := byte(i)
		for bit := 0; bit < 8; bit++ {
			if crc&0x01 != 0 {
				crc = (crc >> 1) ^ 0x8C
			} else {
				crc >>= 1
			}
		}
		t[i] = crc
	}
	return t
}()

// CalculateChecksum 计算 CRC-8（不包含校验字节本身）
func CalculateChecksum(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc = crcTable[crc^b]
	}
	return crc
}

// VerifyChecksum 验证末尾校验字节
// dataWithChecksum: 完整数据，最后一个字节为校验和
func VerifyChecksum(dataWithChecksum []byte) error {
	if len(dataWithChecksum) < 1 {
		return ErrTooShort
	}
	pos := len(dataWithChecksum) - 1
	if CalculateChecksum(dataWithChecksum[:pos]) != dataWithChecksum[pos] {
		return ErrChecksumMismatch
	}
	return nil
}
