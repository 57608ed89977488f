package tcpnet

import (
	"fmt"
	"net"
	"testing"
	"time"
)

func TestClientConnectSendReceive(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	var gotLine string
	disconnected := false
	client := NewClient(ln.Addr().String(), func(line string) { gotLine = line }, func() { disconnected = true })

	if err := client.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !client.IsConnected() {
		t.Fatal("expected client to report connected")
	}

	serverSide := <-accepted
	defer serverSide.Close()
	serverSide.Write([]byte("reply\n"))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && gotLine == "" {
		client.Run()
		time.Sleep(5 * time.Millisecond)
	}
	if gotLine != "reply" {
		t.Fatalf("expected to receive 'reply', got %q", gotLine)
	}

	serverSide.Close()
	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) && !disconnected {
		client.Run()
		time.Sleep(5 * time.Millisecond)
	}
	if !disconnected {
		t.Error("expected onDisconnection to fire after the peer closed")
	}
	if client.IsConnected() {
		t.Error("expected IsConnected to report false after disconnection")
	}
}

func TestClientReassemblesLineSplitAcrossPollDeadlines(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	var gotLines []string
	client := NewClient(ln.Addr().String(), func(line string) { gotLines = append(gotLines, line) }, nil)
	if err := client.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	serverSide := <-accepted
	defer serverSide.Close()

	serverSide.Write([]byte("LEADER 1 "))
	client.Run()
	time.Sleep(30 * time.Millisecond)
	client.Run()
	serverSide.Write([]byte("2\n"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(gotLines) == 0 {
		client.Run()
		time.Sleep(10 * time.Millisecond)
	}

	if len(gotLines) != 1 || gotLines[0] != "LEADER 1 2" {
		t.Fatalf("expected the split line reassembled as one dispatch, got %q", gotLines)
	}
}

func TestClientSendWhileDisconnectedFails(t *testing.T) {
	client := NewClient(fmt.Sprintf("127.0.0.1:%d", 1), nil, nil)
	if err := client.Send("x"); err == nil {
		t.Error("expected Send before Connect to fail")
	}
}
