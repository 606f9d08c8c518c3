// Copyright 2024 Authors of barnacle
// SPDX-License-Identifier: Apache-2.0

package constants

import "time"

const (
	// Default paths
	DefaultConfigPath     = "/etc/barnacle/tetherd.yaml"
	DefaultHelperDir      = "/data/barnacle"
	DefaultHelperPath     = "/data/barnacle/run"
	DefaultIniPath        = "/data/barnacle/brncl.ini"
	DefaultCtrlSocketPath = "/data/barnacle/nat_ctrl"
	DefaultSupplicantDir  = "/var/run/wpa_supplicant"
	ProcNetDev            = "/proc/net/dev"
	ProcNetRoute          = "/proc/net/route"

	// Defaults for the daemon
	DefaultName          = "wlan-tether"
	DefaultWifiInterface = "wlan0"
	DefaultListen        = "127.0.0.1:8088"
	DefaultLogLevel      = "info"

	// Environment variables
	EnvConfigPath = "BARNACLE_CONFIG"
	EnvLogLevel   = "BARNACLE_LOG_LEVEL"
	EnvListen     = "BARNACLE_LISTEN"

	// Helper stdout/stderr protocol
	LineWifiOK   = "WIFI: OK"
	LineDhcpAck  = "DHCP: ACK"
	StdinReassoc = "WLAN"

	// Control socket directives
	DirectiveAllow     = "MACA"
	DirectiveDeny      = "MACD"
	DirectiveDmz       = "DMZ"
	DirectiveFiltering = "FILT"
	DirectiveSeparator = "|"

	// Prefix used for every key of the helper ini file
	IniKeyPrefix = "brncl_"
)

const (
	CtrlConnectAttempts  = 3
	CtrlConnectBackoff   = 100 * time.Millisecond
	ReassocInterval      = 5 * time.Second
	DefaultStopTimeout   = 5 * time.Second
	StatePollInterval    = 2 * time.Second
	DefaultStatsInterval = time.Second
	SessionLogCapacity   = 512
)
