//go:build !unix

package httpserver

import "net"

func listenConfig() net.ListenConfig {
	return net.ListenConfig{}
}
