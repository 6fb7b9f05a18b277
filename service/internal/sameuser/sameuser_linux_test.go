//go:build linux

package sameuser

import (
	"net"
	"os"
	"path/filepath"
	"testing"
)

func unixPair(t *testing.T) (server, client net.Conn) {
	path := filepath.Join(t.TempDir(), "s")
	l, err := net.Listen("unix", path)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	accepted := make(chan net.Conn)
	go func() {
		c, _ := l.Accept()
		accepted <- c
	}()
	client, err = net.Dial("unix", path)
	if err != nil {
		t.Fatal(err)
	}
	server = <-accepted
	if server == nil {
		t.Fatal("accept failed")
	}
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return server, client
}

func TestCanAccept(t *testing.T) {
	server, _ := unixPair(t)
	if !CanAccept(server) {
		t.Fatalf("connection from own user rejected")
	}

	defer func(old int) { uid = old }(uid)
	uid = os.Getuid() + 1
	if CanAccept(server) {
		t.Fatalf("connection from different user accepted")
	}
}

func TestCanAcceptNonUnix(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	if !CanAccept(a) {
		t.Fatalf("pipe rejected")
	}
}
