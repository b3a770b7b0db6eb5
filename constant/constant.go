package constant

import "time"

const (
	// DefaultVsockPort is the well-known host service port on AF_VSOCK.
	DefaultVsockPort = uint32(0x400)

	// DefaultTCPPort is the stream fallback port when vsock is unavailable.
	DefaultTCPPort = 4660

	MaxReadBufferSize  = 64 << 10
	MaxWriteBufferSize = 64 << 10

	DefaultDialTimeout    = 3 * time.Second
	DefaultRequestTimeout = 5 * time.Second

	// DefaultDispatchQueue bounds messages read off a channel but not yet
	// handled; a full queue back-pressures the ring reader.
	DefaultDispatchQueue = 32

	// DefaultDispatchWorkers drain the dispatch queue.
	DefaultDispatchWorkers = 4
)
