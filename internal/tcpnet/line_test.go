package tcpnet

import (
	"strings"
	"testing"
)

func TestLineAccumulatorSplitsOnNewline(t *testing.T) {
	var a lineAccumulator
	lines := a.feed([]byte("one\ntwo\nthr"))
	if len(lines) != 2 || lines[0] != "one" || lines[1] != "two" {
		t.Fatalf("expected [one two], got %v", lines)
	}
	lines = a.feed([]byte("ee\n"))
	if len(lines) != 1 || lines[0] != "three" {
		t.Fatalf("expected the remainder joined with the next feed, got %v", lines)
	}
}

func TestLineAccumulatorResetsOnOverflow(t *testing.T) {
	var a lineAccumulator
	a.feed([]byte(strings.Repeat("x", recvBufferSize-1)))
	lines := a.feed([]byte("y\n"))
	if len(lines) != 1 {
		t.Fatalf("expected the overflow reset to drop the stale prefix, got %v", lines)
	}
	if strings.Contains(lines[0], "x") {
		t.Fatalf("expected the pre-overflow bytes to be discarded, got %q", lines[0])
	}
}

func TestLineAccumulatorStripsCarriageReturn(t *testing.T) {
	var a lineAccumulator
	lines := a.feed([]byte("hi\r\n"))
	if len(lines) != 1 || lines[0] != "hi" {
		t.Fatalf("expected trailing \\r stripped, got %v", lines)
	}
}
