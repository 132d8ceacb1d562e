package control

import "fmt"

// PacketSize 控制报文固定长度，须与设备固件解析长度一致
const PacketSize = 2

// Packet 单轮指令：主分类（左/右手）与次分类（手势），按值传递
type Packet struct {
	Primary   uint8
	Secondary uint8
}

// Bytes 编码为线上字节序列 [Primary, Secondary]，无分隔符与长度前缀
func (p Packet) Bytes() []byte {
	return []byte{p.Primary, p.Secondary}
}

// ParsePacket 从线上字节还原指令（设备模拟与测试使用）
func ParsePacket(b []byte) (Packet, error) {
	if len(b) != PacketSize {
		return Packet{}, fmt.Errorf("packet length %d, want %d", len(b), PacketSize)
	}
	return Packet{Primary: b[0], Secondary: b[1]}, nil
}

func (p Packet) String() string {
	return fmt.Sprintf("%02X%02X", p.Primary, p.Secondary)
}
