package network

import "time"

// Options configures connection timeouts and the outbound queue.
type Options struct {
	ConnectionTimeout time.Duration
	FrameReadTimeout  time.Duration
	FrameWriteTimeout time.Duration
	SendQueueSize     int
}

func (o Options) withDefaults() Options {
	out := o
	if out.ConnectionTimeout <= 0 {
		out.ConnectionTimeout = DefaultConnectionTimeout
	}
	if out.FrameReadTimeout <= 0 {
		out.FrameReadTimeout = DefaultFrameReadTimeout
	}
	if out.FrameWriteTimeout <= 0 {
		out.FrameWriteTimeout = DefaultFrameWriteTimeout
	}
	if out.SendQueueSize <= 0 {
		out.SendQueueSize = DefaultSendQueueSize
	}
	return out
}
