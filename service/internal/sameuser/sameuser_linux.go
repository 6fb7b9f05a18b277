//go:build linux

package sameuser

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/softgpu/gpudbg/pkg/logflags"
)

// for testing
var (
	uid       = os.Getuid()
	peerCreds = getPeerCreds
)

func getPeerCreds(conn *net.UnixConn) (*unix.Ucred, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return nil, err
	}
	var cred *unix.Ucred
	var credErr error
	err = raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return nil, err
	}
	return cred, credErr
}

// CanAccept returns true if the peer of conn runs as the same user as this
// process. Connections that are not unix domain sockets are always
// accepted.
func CanAccept(conn net.Conn) bool {
	uconn, ok := conn.(*net.UnixConn)
	if !ok {
		return true
	}
	cred, err := peerCreds(uconn)
	if err != nil {
		logflags.TransportLogger().Errorf("cannot read peer credentials: %v", err)
		return false
	}
	if int(cred.Uid) != uid {
		msg := fmt.Sprintf("closing connection from different user (remote: %d, local: %d, pid: %d): connections are only accepted from the same UNIX user for security reasons", cred.Uid, uid, cred.Pid)
		if logflags.Transport() {
			logflags.TransportLogger().Warn(msg)
		} else {
			fmt.Fprintln(os.Stderr, msg)
		}
		return false
	}
	return true
}
