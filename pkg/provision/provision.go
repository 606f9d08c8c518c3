// Copyright 2024 Authors of barnacle
// SPDX-License-Identifier: Apache-2.0

// Package provision prepares everything the helper needs before it is started.
package provision

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"

	"github.com/szym/barnacle/pkg/config"
	"github.com/szym/barnacle/pkg/constants"
	"github.com/szym/barnacle/pkg/helper"
	"github.com/szym/barnacle/pkg/log"
	"github.com/szym/barnacle/pkg/netstate"
	"github.com/szym/barnacle/pkg/types"
)

// Provisioner prepares the helper binary, its uplink and its config file.
// Every step must succeed, in order, before the helper can be spawned.
type Provisioner interface {
	PrepareBinaries() error
	FindWanInterface() error
	PrepareConfig() error
	HelperCommand() helper.Command
	// ControlSocketPath is where the filtering daemon listens, empty when unused
	ControlSocketPath() string
}

// Files is the default provisioner, driven by the daemon configuration
type Files struct {
	cfg *config.Config

	// RouteTable is parsed when netlink cannot tell the default route
	RouteTable string
	// DefaultRoute finds the default route interface, skipping the given one
	DefaultRoute func(exclude string) (string, error)

	wanIface string
}

var _ Provisioner = (*Files)(nil)

// New creates a provisioner for cfg
func New(cfg *config.Config) *Files {
	return &Files{
		cfg:          cfg,
		RouteTable:   constants.ProcNetRoute,
		DefaultRoute: netstate.DefaultRouteInterface,
		wanIface:     cfg.WanInterface,
	}
}

// PrepareBinaries checks that the helper exists and is executable
func (f *Files) PrepareBinaries() error {
	info, err := os.Stat(f.cfg.Helper.Path)
	if err != nil {
		return fmt.Errorf("%w: helper %s: %v", types.ErrProvision, f.cfg.Helper.Path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: helper %s is a directory", types.ErrProvision, f.cfg.Helper.Path)
	}
	if info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("%w: helper %s is not executable", types.ErrProvision, f.cfg.Helper.Path)
	}
	return nil
}

// WanInterface is the uplink chosen by the last FindWanInterface
func (f *Files) WanInterface() string {
	return f.wanIface
}

// FindWanInterface resolves the uplink interface. A configured interface
// wins; otherwise the default route is looked up over netlink and then in
// the kernel route table.
func (f *Files) FindWanInterface() error {
	if f.cfg.WanInterface != "" {
		f.wanIface = f.cfg.WanInterface
		return nil
	}

	iface, err := f.DefaultRoute(f.cfg.WifiInterface)
	if err != nil {
		log.Logger.Debugf("netlink default route lookup failed: %v", err)
	}
	if iface == "" {
		iface, err = defaultRouteFromTable(f.RouteTable)
		if err != nil {
			log.Logger.Debugf("failed to read %s: %v", f.RouteTable, err)
		}
	}
	if iface == "" {
		return types.ErrUplinkUnavailable
	}

	log.Logger.Infof("mobile data interface found: %s", iface)
	f.wanIface = iface
	return nil
}

// defaultRouteFromTable returns the interface of the first entry in a
// /proc/net/route formatted table whose destination is 00000000
func defaultRouteFromTable(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	// header
	scanner.Scan()
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) > 1 && fields[1] == "00000000" {
			return fields[0], nil
		}
	}
	return "", nil
}

const iniTemplate = `{{range .Entries}}{{$.Prefix}}{{.Key}}={{.Value}}
{{end}}`

type iniEntry struct {
	Key   string
	Value string
}

// wepKey returns the key in the hex form the helper expects. A key in double
// quotes is ASCII, anything else is already hex.
func wepKey(v string) string {
	if len(v) >= 2 && strings.HasPrefix(v, `"`) && strings.HasSuffix(v, `"`) {
		return hex.EncodeToString([]byte(v[1 : len(v)-1]))
	}
	return v
}

// iniEntries lists the non-empty settings in the order the helper documents them
func (f *Files) iniEntries() []iniEntry {
	c := f.cfg
	itoa := func(v int) string {
		if v == 0 {
			return ""
		}
		return strconv.Itoa(v)
	}
	quote := func(v string) string {
		if v == "" {
			return ""
		}
		return `"` + v + `"`
	}

	all := []iniEntry{
		{"if_lan", c.WifiInterface},
		{"if_wan", f.wanIface},
		{"lan_gw", c.Lan.Gateway},
		{"lan_netmask", c.Lan.Netmask},
		{"lan_essid", quote(c.Lan.Essid)},
		{"lan_bssid", c.Lan.Bssid},
		{"lan_wep", wepKey(c.Lan.Wep)},
		{"lan_channel", itoa(c.Lan.Channel)},
		{"dhcp_firsthost", itoa(c.Dhcp.FirstHost)},
		{"dhcp_numhosts", itoa(c.Dhcp.NumHosts)},
		{"dhcp_leasetime", itoa(c.Dhcp.LeaseTime)},
		{"dhcp_dns1", c.Dhcp.DNS1},
		{"dhcp_dns2", c.Dhcp.DNS2},
		{"nat_firstport", itoa(c.Nat.FirstPort)},
		{"nat_numports", itoa(c.Nat.NumPorts)},
		{"nat_queue", itoa(c.Nat.Queue)},
		{"nat_timeout", itoa(c.Nat.Timeout)},
		{"nat_timeout_tcp", itoa(c.Nat.TimeoutTCP)},
		{"lan_script", c.Lan.Script},
	}
	if c.Filtering {
		all = append(all, iniEntry{"nat_filter", "1"}, iniEntry{"nat_ctrl", c.CtrlSocketPath})
	}

	entries := all[:0]
	for _, e := range all {
		if e.Value != "" {
			entries = append(entries, e)
		}
	}
	return entries
}

// PrepareConfig writes the helper ini file. The file is replaced atomically.
func (f *Files) PrepareConfig() error {
	tmpl, err := template.New("ini").Parse(iniTemplate)
	if err != nil {
		return fmt.Errorf("%w: failed to parse ini template: %v", types.ErrProvision, err)
	}

	var buf bytes.Buffer
	data := struct {
		Prefix  string
		Entries []iniEntry
	}{Prefix: constants.IniKeyPrefix, Entries: f.iniEntries()}
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("%w: failed to execute ini template: %v", types.ErrProvision, err)
	}

	if err := writeAtomic(f.cfg.IniPath, buf.Bytes()); err != nil {
		return fmt.Errorf("%w: failed to write %s: %v", types.ErrProvision, f.cfg.IniPath, err)
	}
	log.Logger.Debugf("generated helper config at %s:\n%s", f.cfg.IniPath, buf.String())
	return nil
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// HelperCommand returns how to start the helper. The ini path is its only argument
// unless arguments are configured.
func (f *Files) HelperCommand() helper.Command {
	args := f.cfg.Helper.Args
	if len(args) == 0 {
		args = []string{f.cfg.IniPath}
	}
	return helper.Command{Path: f.cfg.Helper.Path, Args: args, Dir: f.cfg.Helper.Dir}
}

func (f *Files) ControlSocketPath() string {
	return f.cfg.CtrlSocketPath
}
