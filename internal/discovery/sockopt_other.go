//go:build !unix

package discovery

import "syscall"

// ControlReuseBroadcast 非 unix 平台不设置额外选项
func ControlReuseBroadcast(network, address string, c syscall.RawConn) error { return nil }
