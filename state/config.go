package state

import (
	"fmt"
	"net/netip"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

type InterfaceCfg struct {
	Name    string
	Address netip.Prefix // local address and link prefix length, e.g. 10.0.1.1/24
	Cost    uint32       `yaml:",omitempty"` // zero means 1
}

type TimerCfg struct {
	Advertise         time.Duration
	Timeout           time.Duration
	GarbageCollection time.Duration `yaml:"garbage_collection"`
	Poll              time.Duration
	RequestDelay      time.Duration `yaml:"request_delay"`
}

// Config is the local router configuration.
type Config struct {
	Id               string
	Interfaces       []InterfaceCfg
	Timers           TimerCfg
	SplitHorizon     bool   `yaml:"split_horizon"`            // advertise routes back over their own interface with metric 16
	TriggeredUpdates bool   `yaml:"triggered_updates"`        // broadcast immediately after the table changes
	InstallRoutes    bool   `yaml:"install_routes"`           // mirror learned routes into the kernel FIB
	LogPath          string `yaml:"log_path,omitempty"`       // if not empty, ripd will also write to this file
	MetricsAddr      string `yaml:"metrics_addr,omitempty"`   // if not empty, serve /metrics and /debug/metrics here
	ControlSocket    string `yaml:"control_socket,omitempty"` // unix socket used by ripd inspect
}

func DefaultConfig(id string) Config {
	return Config{
		Id: id,
		Timers: TimerCfg{
			Advertise:         AdvertiseInterval,
			Timeout:           RouteTimeout,
			GarbageCollection: GarbageCollectionTime,
			Poll:              PollInterval,
			RequestDelay:      RequestDelay,
		},
		SplitHorizon:     true,
		TriggeredUpdates: true,
		ControlSocket:    DefaultControlSocket,
	}
}

// LoadConfig reads path on top of the defaults, so omitted fields keep their default value.
func LoadConfig(path string) (*Config, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig("")
	if err := yaml.Unmarshal(file, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := ConfigValidator(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// StaticInterfaces converts the configured interfaces without consulting the OS.
// Hardware addresses and indexes are left empty.
func (c *Config) StaticInterfaces() Interfaces {
	out := make(Interfaces, 0, len(c.Interfaces))
	for _, ic := range c.Interfaces {
		out = append(out, Interface{
			Name: ic.Name,
			Addr: ic.Address,
			Cost: ic.Cost,
		})
	}
	return out
}
