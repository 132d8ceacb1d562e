package discovery

import (
	"net"
	"strconv"
	"time"
)

// Peer 已配对设备地址，配对成功后不可变
type Peer struct {
	Host          string    // 设备 IP
	DiscoveryPort int       // UDP 发现端口
	ControlPort   int       // TCP 控制端口
	PairedAt      time.Time // 配对完成时间
}

// ControlAddr 返回控制通道地址 host:port
func (p Peer) ControlAddr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.ControlPort))
}

// IsZero 判断是否尚未配对
func (p Peer) IsZero() bool { return p.Host == "" }

func (p Peer) String() string { return p.Host }
