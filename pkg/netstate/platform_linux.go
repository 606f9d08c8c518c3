// Copyright 2024 Authors of barnacle
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package netstate

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/szym/barnacle/pkg/log"
)

// linuxPlatform reads link and route state over netlink. The station radio
// counts as enabled while wpa_supplicant serves a control socket for the
// wifi interface.
type linuxPlatform struct {
	wifiIface     string
	supplicantDir string
}

// NewPlatform returns the platform for the running operating system
func NewPlatform(wifiIface, supplicantDir string) Platform {
	return &linuxPlatform{wifiIface: wifiIface, supplicantDir: supplicantDir}
}

func (p *linuxPlatform) Capabilities() Capabilities {
	return Capabilities{LinkEvents: true, RadioControl: true}
}

func (p *linuxPlatform) supplicantSocket() string {
	return filepath.Join(p.supplicantDir, p.wifiIface)
}

// Snapshot reads the current radio and uplink state
func (p *linuxPlatform) Snapshot() (Snapshot, error) {
	snap := Snapshot{Radio: p.radioState()}

	iface, err := DefaultRouteInterface(p.wifiIface)
	if err != nil {
		return snap, err
	}
	snap.Uplink = iface != ""
	snap.UplinkIface = iface
	return snap, nil
}

func (p *linuxPlatform) radioState() RadioState {
	_, err := os.Stat(p.supplicantSocket())
	switch {
	case err == nil:
		return RadioEnabled
	case errors.Is(err, os.ErrNotExist):
		return RadioDisabled
	default:
		log.Logger.Debugf("failed to stat %s: %v", p.supplicantSocket(), err)
		return RadioUnknown
	}
}

// DefaultRouteInterface returns the name of the interface carrying the IPv4
// default route, skipping exclude and links that are down. It returns an
// empty name when there is no usable default route.
func DefaultRouteInterface(exclude string) (string, error) {
	routes, err := netlink.RouteList(nil, netlink.FAMILY_V4)
	if err != nil {
		return "", fmt.Errorf("failed to list routes: %v", err)
	}

	for _, route := range routes {
		if !isDefaultRoute(route) || route.LinkIndex == 0 {
			continue
		}
		link, err := netlink.LinkByIndex(route.LinkIndex)
		if err != nil {
			log.Logger.Debugf("failed to get link %d: %v", route.LinkIndex, err)
			continue
		}
		attrs := link.Attrs()
		if attrs.Name == exclude || !linkUp(attrs) {
			continue
		}
		return attrs.Name, nil
	}
	return "", nil
}

func isDefaultRoute(route netlink.Route) bool {
	if route.Dst == nil {
		return true
	}
	ones, _ := route.Dst.Mask.Size()
	return ones == 0 && route.Dst.IP.IsUnspecified()
}

func linkUp(attrs *netlink.LinkAttrs) bool {
	return attrs.Flags&net.FlagUp != 0 && attrs.RawFlags&unix.IFF_LOWER_UP != 0
}

// DisableRadio asks wpa_supplicant to terminate and takes the wifi link down
func (p *linuxPlatform) DisableRadio() error {
	if p.radioState() == RadioEnabled {
		if err := p.terminateSupplicant(); err != nil {
			log.Logger.Warnf("failed to terminate wpa_supplicant on %s: %v", p.wifiIface, err)
		}
	}

	link, err := netlink.LinkByName(p.wifiIface)
	if err != nil {
		log.Logger.Errorf("failed to get interface %s: %v", p.wifiIface, err)
		return err
	}
	if err := netlink.LinkSetDown(link); err != nil {
		log.Logger.Errorf("failed to set interface %s down: %v", p.wifiIface, err)
		return err
	}
	log.Logger.Infof("wifi interface %s disabled", p.wifiIface)
	return nil
}

func (p *linuxPlatform) terminateSupplicant() error {
	addr := &net.UnixAddr{Name: p.supplicantSocket(), Net: "unixgram"}
	conn, err := net.DialUnix("unixgram", nil, addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Write([]byte("TERMINATE"))
	return err
}

// Subscribe forwards netlink link and route updates to notify
func (p *linuxPlatform) Subscribe(ctx context.Context, notify func()) error {
	done := make(chan struct{})
	links := make(chan netlink.LinkUpdate, 16)
	routes := make(chan netlink.RouteUpdate, 16)

	if err := netlink.LinkSubscribe(links, done); err != nil {
		close(done)
		return fmt.Errorf("failed to subscribe to link updates: %v", err)
	}
	if err := netlink.RouteSubscribe(routes, done); err != nil {
		close(done)
		return fmt.Errorf("failed to subscribe to route updates: %v", err)
	}

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case u, ok := <-links:
				if !ok {
					log.Logger.Warnf("link update channel closed")
					return
				}
				log.Logger.Debugf("link update: %s flags=%v", u.Attrs().Name, u.Attrs().Flags)
				notify()
			case u, ok := <-routes:
				if !ok {
					log.Logger.Warnf("route update channel closed")
					return
				}
				log.Logger.Debugf("route update: type=%d dst=%v", u.Type, u.Dst)
				notify()
			}
		}
	}()
	return nil
}
