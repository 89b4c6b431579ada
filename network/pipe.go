package network

import "net"

// Pipe returns two in-memory connections joined back to back.
func Pipe() (Conn, Conn) {
	return PipeWithOptions(Options{})
}

// PipeWithOptions is Pipe with explicit write timeout and queue size.
func PipeWithOptions(options Options) (Conn, Conn) {
	opts := options.withDefaults()
	left, right := net.Pipe()
	return newConnection(&tcpFrames{conn: left, writeTimeout: opts.FrameWriteTimeout}, opts),
		newConnection(&tcpFrames{conn: right, writeTimeout: opts.FrameWriteTimeout}, opts)
}
