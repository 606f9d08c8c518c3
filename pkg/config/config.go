// Copyright 2024 Authors of barnacle
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/szym/barnacle/pkg/constants"
	"github.com/szym/barnacle/pkg/log"
)

// HelperConfig describes how to run the privileged helper process
type HelperConfig struct {
	Path        string   `json:"path"`
	Args        []string `json:"args,omitempty"`
	Dir         string   `json:"dir,omitempty"`
	StopTimeout string   `json:"stopTimeout,omitempty"`
}

// LanConfig represents the access point side of the tether
type LanConfig struct {
	Gateway string `json:"gateway,omitempty"`
	Netmask string `json:"netmask,omitempty"`
	Essid   string `json:"essid,omitempty"`
	Bssid   string `json:"bssid,omitempty"`
	// Wep is a hex key, or an ASCII key in double quotes. Empty leaves the network open.
	Wep     string `json:"wep,omitempty"`
	Channel int    `json:"channel,omitempty"`
	// Script is run by the helper once the access point is up
	Script string `json:"script,omitempty"`
}

// DhcpConfig is handed to the helper's DHCP server
type DhcpConfig struct {
	FirstHost int    `json:"firstHost,omitempty"`
	NumHosts  int    `json:"numHosts,omitempty"`
	LeaseTime int    `json:"leaseTime,omitempty"`
	DNS1      string `json:"dns1,omitempty"`
	DNS2      string `json:"dns2,omitempty"`
}

// NatConfig is handed to the helper's NAT
type NatConfig struct {
	FirstPort  int `json:"firstPort,omitempty"`
	NumPorts   int `json:"numPorts,omitempty"`
	Queue      int `json:"queue,omitempty"`
	Timeout    int `json:"timeout,omitempty"`
	TimeoutTCP int `json:"timeoutTcp,omitempty"`
}

// Config represents the daemon configuration
type Config struct {
	Name           string       `json:"name"`
	Helper         HelperConfig `json:"helper"`
	WifiInterface  string       `json:"wifiInterface"`
	WanInterface   string       `json:"wanInterface,omitempty"`
	CtrlSocketPath string       `json:"ctrlSocketPath,omitempty"`
	IniPath        string       `json:"iniPath,omitempty"`
	SupplicantDir  string       `json:"supplicantDir,omitempty"`
	Filtering      bool         `json:"filtering"`
	SkipUplinkWait bool         `json:"skipUplinkWait"`
	AutoAssociate  bool         `json:"autoAssociate"`
	Autostart      bool         `json:"autostart"`
	StatsInterval  string       `json:"statsInterval,omitempty"`
	LogLevel       string       `json:"logLevel,omitempty"`
	Listen         string       `json:"listen,omitempty"`
	Lan            LanConfig    `json:"lan"`
	Dhcp           DhcpConfig   `json:"dhcp"`
	Nat            NatConfig    `json:"nat"`
}

// Default returns a configuration with every optional field filled in
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = constants.DefaultName
	}
	if c.Helper.Path == "" {
		c.Helper.Path = constants.DefaultHelperPath
	}
	if c.Helper.Dir == "" {
		c.Helper.Dir = filepath.Dir(c.Helper.Path)
	}
	if c.Helper.StopTimeout == "" {
		c.Helper.StopTimeout = constants.DefaultStopTimeout.String()
	}
	if c.WifiInterface == "" {
		c.WifiInterface = constants.DefaultWifiInterface
	}
	if c.CtrlSocketPath == "" {
		c.CtrlSocketPath = constants.DefaultCtrlSocketPath
	}
	if c.IniPath == "" {
		c.IniPath = constants.DefaultIniPath
	}
	if c.SupplicantDir == "" {
		c.SupplicantDir = constants.DefaultSupplicantDir
	}
	if c.StatsInterval == "" {
		c.StatsInterval = constants.DefaultStatsInterval.String()
	}
	if c.LogLevel == "" {
		c.LogLevel = constants.DefaultLogLevel
	}
	if c.Listen == "" {
		c.Listen = constants.DefaultListen
	}
}

// StopTimeout returns the bounded wait used when tearing down the helper
func (c *Config) StopTimeout() time.Duration {
	d, err := time.ParseDuration(c.Helper.StopTimeout)
	if err != nil || d <= 0 {
		return constants.DefaultStopTimeout
	}
	return d
}

// StatsPeriod returns how often the daemon polls traffic counters while running
func (c *Config) StatsPeriod() time.Duration {
	d, err := time.ParseDuration(c.StatsInterval)
	if err != nil || d <= 0 {
		return constants.DefaultStatsInterval
	}
	return d
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.Helper.Path == "" {
		return fmt.Errorf("helper path is required")
	}
	if !filepath.IsAbs(c.Helper.Path) {
		return fmt.Errorf("helper path must be absolute: %s", c.Helper.Path)
	}
	if d, err := time.ParseDuration(c.Helper.StopTimeout); err != nil || d <= 0 {
		return fmt.Errorf("invalid helper stopTimeout %q", c.Helper.StopTimeout)
	}
	if d, err := time.ParseDuration(c.StatsInterval); err != nil || d <= 0 {
		return fmt.Errorf("invalid statsInterval %q", c.StatsInterval)
	}
	if c.WifiInterface == "" {
		return fmt.Errorf("wifi interface must be specified")
	}
	if c.Filtering && c.CtrlSocketPath == "" {
		return fmt.Errorf("ctrlSocketPath must be specified when filtering is enabled")
	}
	if c.IniPath == "" {
		return fmt.Errorf("iniPath is required")
	}

	if c.Lan.Gateway != "" && net.ParseIP(c.Lan.Gateway).To4() == nil {
		return fmt.Errorf("invalid lan gateway: %s", c.Lan.Gateway)
	}
	if c.Lan.Netmask != "" && net.ParseIP(c.Lan.Netmask).To4() == nil {
		return fmt.Errorf("invalid lan netmask: %s", c.Lan.Netmask)
	}
	if c.Lan.Wep != "" {
		if err := validateWep(c.Lan.Wep); err != nil {
			return err
		}
	}
	if c.Lan.Script != "" && !filepath.IsAbs(c.Lan.Script) {
		return fmt.Errorf("lan script must be absolute: %s", c.Lan.Script)
	}
	if c.Lan.Channel < 0 || c.Lan.Channel > 14 {
		return fmt.Errorf("invalid lan channel: %d", c.Lan.Channel)
	}
	if c.Nat.FirstPort < 0 || c.Nat.FirstPort > 65535 {
		return fmt.Errorf("invalid nat firstPort: %d", c.Nat.FirstPort)
	}

	if !strings.HasPrefix(c.Listen, "unix:") {
		if _, _, err := net.SplitHostPort(c.Listen); err != nil {
			return fmt.Errorf("invalid listen address %q: %v", c.Listen, err)
		}
	}

	return nil
}

// validateWep accepts a 40 or 104 bit key, either as "ascii" or as hex digits
func validateWep(key string) error {
	if len(key) >= 2 && strings.HasPrefix(key, `"`) && strings.HasSuffix(key, `"`) {
		ascii := key[1 : len(key)-1]
		if len(ascii) != 5 && len(ascii) != 13 {
			return fmt.Errorf("invalid lan wep key: ascii keys have 5 or 13 characters")
		}
		for _, r := range ascii {
			if r < 0x20 || r > 0x7e {
				return fmt.Errorf("invalid lan wep key: non printable character")
			}
		}
		return nil
	}
	if len(key) != 10 && len(key) != 26 {
		return fmt.Errorf("invalid lan wep key: hex keys have 10 or 26 digits")
	}
	if _, err := hex.DecodeString(key); err != nil {
		return fmt.Errorf("invalid lan wep key: %v", err)
	}
	return nil
}

func decode(data []byte) (*Config, error) {
	c := &Config{}
	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return nil, err
	}
	return c, nil
}

// complete applies defaults and validates
func (c *Config) complete() error {
	c.applyDefaults()
	return c.Validate()
}

// Parse decodes a YAML document, applies defaults and validates the result
func Parse(data []byte) (*Config, error) {
	c, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %v", err)
	}
	if err := c.complete(); err != nil {
		return nil, err
	}
	return c, nil
}

// Load reads the config file, falling back to $BARNACLE_CONFIG and then the default path.
// Environment overrides are applied before validation.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(constants.EnvConfigPath)
	}
	if path == "" {
		path = constants.DefaultConfigPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %v", path, err)
	}

	c, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %v", path, err)
	}

	if v := os.Getenv(constants.EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(constants.EnvListen); v != "" {
		c.Listen = v
	}

	if err := c.complete(); err != nil {
		return nil, err
	}

	log.Logger.Debugf("Loaded config from %s: %+v", path, *c)
	return c, nil
}
