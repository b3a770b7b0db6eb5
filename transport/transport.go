// Package transport selects and drives the path between guest and host.
// Three tiers exist, best first: the shared-memory channel, a stream socket
// with a shared-memory region for bulk data, and a plain stream socket that
// carries bulk data inline. All tiers move the same logical messages; the
// session layer above never cares which one connected.
package transport

import (
	"log"

	"github.com/vmremote/winapi/channel"
	"github.com/vmremote/winapi/constant"
	"github.com/vmremote/winapi/models"
	"github.com/vmremote/winapi/shmem"
)

// Transport is one connected path to the host.
type Transport interface {
	// Kind identifies the connected tier: "channel", "socket+region", or
	// "socket".
	Kind() string

	// Send writes one request. bulk, when non-nil, is the out-of-band
	// payload for transports that stream it; transports with mapped bulk
	// paths reject it because the caller stages bulk directly.
	Send(msg *models.Message, bulk []byte) error

	// Recv blocks for the next response, returning streamed bulk bytes
	// when the tier carries them on the stream.
	Recv() (*models.Message, []byte, error)

	// Shutdown unblocks a pending Recv and stops the exchange without
	// releasing mapped memory, so a receive loop can drain out before
	// Close unmaps anything.
	Shutdown()

	Close() error
}

// Config selects how to reach the host and where the shared resources live.
type Config struct {
	// ChannelID is the well-known channel identifier. Empty skips tier 1.
	ChannelID string

	// VsockPort is the host service port on AF_VSOCK.
	VsockPort uint32

	// HostAddr is the TCP fallback host. Empty means: derive the default
	// gateway address, else loopback.
	HostAddr string
	TCPPort  int

	// RegionPath names the shared request/response region file. Empty
	// skips tier 2.
	RegionPath string
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.ChannelID == "" {
		out.ChannelID = channel.DefaultChannelID
	}
	if out.VsockPort == 0 {
		out.VsockPort = constant.DefaultVsockPort
	}
	if out.TCPPort == 0 {
		out.TCPPort = constant.DefaultTCPPort
	}
	return out
}

// Connect establishes the best available tier. Channel failures fall through
// to the socket tiers; a socket that connects but cannot map the shared
// region degrades to streamed bulk rather than failing.
func Connect(cfg Config) (Transport, error) {
	cfg = cfg.withDefaults()

	ct, err := channel.Dial(cfg.ChannelID)
	if err == nil {
		return ct, nil
	}
	log.Printf("transport: channel %q unavailable (%v), trying socket", cfg.ChannelID, err)

	var region *shmem.Region
	if cfg.RegionPath != "" {
		region, err = shmem.OpenRegion(cfg.RegionPath)
		if err != nil {
			log.Printf("transport: region %q unavailable (%v), bulk will stream", cfg.RegionPath, err)
			region = nil
		}
	}

	st, err := DialSocket(cfg, region)
	if err != nil {
		if region != nil {
			region.Close()
		}
		return nil, err
	}
	return st, nil
}
