//go:build !unix

package device

import "syscall"

func reuseAddr(network, address string, c syscall.RawConn) error {
	return nil
}
