package state

import (
	"fmt"
	"net/netip"
	"os"
	"path"
	"path/filepath"
	"regexp"
)

var namePattern, _ = regexp.Compile("^[0-9a-z._-]+$")

// interface names follow the kernel's IFNAMSIZ limit
var ifacePattern, _ = regexp.Compile("^[0-9A-Za-z._@-]{1,15}$")

func PathValidator(s string) error {
	_, err := os.Stat(path.Dir(s))
	if err != nil {
		return err
	}
	_, err = filepath.Abs(s)
	return err
}

func NameValidator(s string) error {
	if !namePattern.MatchString(s) {
		return fmt.Errorf("%s is not a valid name, must match pattern %s", s, namePattern.String())
	}
	if len(s) > 100 {
		return fmt.Errorf("len(\"%s\") = %d > 100 is too long", s, len(s))
	}
	return nil
}

func BindValidator(s string) error {
	_, err := netip.ParseAddrPort(s)
	return err
}

func InterfaceValidator(ic *InterfaceCfg) error {
	if !ifacePattern.MatchString(ic.Name) {
		return fmt.Errorf("%q is not a valid interface name", ic.Name)
	}
	if !ic.Address.IsValid() || !ic.Address.Addr().Is4() {
		return fmt.Errorf("interface %s: address %s is not an ipv4 prefix", ic.Name, ic.Address)
	}
	if ic.Address.Addr() == ic.Address.Masked().Addr() && ic.Address.Bits() < 31 {
		return fmt.Errorf("interface %s: address %s is a network address", ic.Name, ic.Address)
	}
	if ic.Cost >= INF {
		return fmt.Errorf("interface %s: cost %d must be less than %d", ic.Name, ic.Cost, INF)
	}
	return nil
}

func TimerValidator(t *TimerCfg) error {
	for name, d := range map[string]int64{
		"advertise":          int64(t.Advertise),
		"timeout":            int64(t.Timeout),
		"garbage_collection": int64(t.GarbageCollection),
		"poll":               int64(t.Poll),
	} {
		if d <= 0 {
			return fmt.Errorf("timers.%s must be positive", name)
		}
	}
	if t.RequestDelay < 0 {
		return fmt.Errorf("timers.request_delay must not be negative")
	}
	if t.Timeout <= t.Advertise {
		return fmt.Errorf("timers.timeout (%s) must be longer than timers.advertise (%s)", t.Timeout, t.Advertise)
	}
	if t.Poll > t.Timeout || t.Poll > t.GarbageCollection {
		return fmt.Errorf("timers.poll (%s) must not exceed timeout or garbage_collection", t.Poll)
	}
	return nil
}

func ConfigValidator(cfg *Config) error {
	if err := NameValidator(cfg.Id); err != nil {
		return err
	}
	if len(cfg.Interfaces) == 0 {
		return fmt.Errorf("at least one interface must be configured")
	}
	names := make(map[string]struct{})
	networks := make(map[netip.Prefix]string)
	for i := range cfg.Interfaces {
		ic := &cfg.Interfaces[i]
		if err := InterfaceValidator(ic); err != nil {
			return err
		}
		if _, ok := names[ic.Name]; ok {
			return fmt.Errorf("interface %s is defined more than once", ic.Name)
		}
		names[ic.Name] = struct{}{}
		if other, ok := networks[ic.Address.Masked()]; ok {
			return fmt.Errorf("interfaces %s and %s share the network %s", other, ic.Name, ic.Address.Masked())
		}
		networks[ic.Address.Masked()] = ic.Name
	}
	if err := TimerValidator(&cfg.Timers); err != nil {
		return err
	}
	if cfg.MetricsAddr != "" {
		if err := BindValidator(cfg.MetricsAddr); err != nil {
			return fmt.Errorf("metrics_addr: %w", err)
		}
	}
	if cfg.LogPath != "" {
		if err := PathValidator(cfg.LogPath); err != nil {
			return fmt.Errorf("log_path: %w", err)
		}
	}
	return nil
}
