package tcpnet

import (
	"bytes"
	"strings"
)

// recvBufferSize is the per-connection accumulator cap, mirroring
// tcp_server.c's recv_buf[TCP_SERVER_BUFFER_SIZE * 2]: twice the
// per-read chunk size, so one line can straddle two reads without
// overflowing.
const recvBufferSize = 2 * 1024

// lineAccumulator buffers raw reads across ticks until a '\n'
// delimiter appears, so a line that arrives split across two poll
// deadlines is reassembled rather than dispatched as two bogus
// fragments. Grounded on tcp_server.c's recv_buf/recv_len handling:
// append, extract every complete line, keep the remainder.
type lineAccumulator struct {
	buf []byte
}

// feed appends chunk and returns every complete line it now contains,
// trailing delimiter stripped. Bytes after the last '\n' stay buffered
// for the next feed. A chunk that would overflow the accumulator
// resets it instead of closing the connection, matching the original's
// overflow handling.
func (a *lineAccumulator) feed(chunk []byte) []string {
	if len(a.buf)+len(chunk) >= recvBufferSize {
		a.buf = a.buf[:0]
	}
	a.buf = append(a.buf, chunk...)

	var lines []string
	for {
		idx := bytes.IndexByte(a.buf, '\n')
		if idx < 0 {
			break
		}
		lines = append(lines, strings.TrimRight(string(a.buf[:idx]), "\r"))
		a.buf = a.buf[idx+1:]
	}
	return lines
}
