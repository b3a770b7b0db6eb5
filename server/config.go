package server

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vmremote/winapi/channel"
	"github.com/vmremote/winapi/constant"
	"github.com/vmremote/winapi/errors"
	"github.com/vmremote/winapi/shmem"
)

// Duration parses YAML durations given either as Go duration strings
// ("30s") or as integer nanoseconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return perr
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return err
	}
	*d = Duration(n)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the host daemon configuration. Zero values take the deployment
// defaults, so an empty file is a valid configuration.
type Config struct {
	VsockPort uint32 `yaml:"vsock_port"`
	TCPAddr   string `yaml:"tcp_addr"`

	ChannelID string `yaml:"channel_id"`
	RingSlots int    `yaml:"ring_slots"`
	DataSize  int    `yaml:"data_size"`

	RegionPath         string `yaml:"region_path"`
	RegionRequestSize  uint32 `yaml:"region_request_size"`
	RegionResponseSize uint32 `yaml:"region_response_size"`

	DispatchQueue   int `yaml:"dispatch_queue"`
	DispatchWorkers int `yaml:"dispatch_workers"`

	ReadTimeout Duration `yaml:"read_timeout"`
	IdleTimeout Duration `yaml:"idle_timeout"`

	// GuestPathStyle selects how shared buffer paths named by the peer are
	// rewritten before opening; "windows" peers send drive-letter paths.
	GuestPathStyle string `yaml:"guest_path_style"`

	EnableStats bool `yaml:"enable_stats"`
}

// LoadConfig reads a YAML config file and applies defaults. An empty path
// returns the default configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, errors.Wrap(errors.ErrInvalidParameters, err)
		}
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.VsockPort == 0 {
		c.VsockPort = constant.DefaultVsockPort
	}
	if c.TCPAddr == "" {
		c.TCPAddr = "0.0.0.0:4660"
	}
	if c.ChannelID == "" {
		c.ChannelID = channel.DefaultChannelID
	}
	if c.RingSlots == 0 {
		c.RingSlots = channel.DefaultRingSlots
	}
	if c.DataSize == 0 {
		c.DataSize = channel.DefaultDataSize
	}
	if c.RegionPath == "" {
		c.RegionPath = shmem.DefaultRegionPath()
	}
	if c.RegionRequestSize == 0 {
		c.RegionRequestSize = shmem.DefaultRequestSize
	}
	if c.RegionResponseSize == 0 {
		c.RegionResponseSize = shmem.DefaultResponseSize
	}
	if c.DispatchQueue == 0 {
		c.DispatchQueue = constant.DefaultDispatchQueue
	}
	if c.DispatchWorkers == 0 {
		c.DispatchWorkers = constant.DefaultDispatchWorkers
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = Duration(time.Minute)
	}
}
