// Copyright 2024 Authors of barnacle
// SPDX-License-Identifier: Apache-2.0

// Package ctrlsock talks to the packet filtering daemon started by the helper.
//
// Every directive is framed as one length byte followed by the ASCII payload,
// with no terminator.
package ctrlsock

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/szym/barnacle/pkg/constants"
	"github.com/szym/barnacle/pkg/log"
	"github.com/szym/barnacle/pkg/types"
)

// MaxMessageLen is the longest payload a single length byte can describe
const MaxMessageLen = 255

var (
	ErrMessageTooLong = errors.New("control message too long")
	ErrNotConnected   = errors.New("control socket not connected")
)

// DialFunc opens a connection to the control socket
type DialFunc func(network, address string) (net.Conn, error)

// Client is a connection to the filtering daemon's control socket
type Client struct {
	path     string
	dial     DialFunc
	attempts int
	interval time.Duration
	logger   *zap.SugaredLogger

	mutex sync.Mutex
	conn  net.Conn
}

// New returns a client for the unix socket at path. It does not connect.
func New(path string) *Client {
	return &Client{
		path:     path,
		dial:     net.Dial,
		attempts: constants.CtrlConnectAttempts,
		interval: constants.CtrlConnectBackoff,
		logger:   log.Logger.Named("ctrlsock"),
	}
}

// WithDialer replaces the function used to open connections
func (c *Client) WithDialer(dial DialFunc) *Client {
	c.dial = dial
	return c
}

// WithRetry overrides the number of connect attempts and the pause between them
func (c *Client) WithRetry(attempts int, interval time.Duration) *Client {
	if attempts > 0 {
		c.attempts = attempts
	}
	c.interval = interval
	return c
}

// Path is the filesystem path of the control socket
func (c *Client) Path() string {
	return c.path
}

// Connected reports whether a connection is currently held
func (c *Client) Connected() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.conn != nil
}

// Connect dials the socket, retrying a bounded number of times.
// It is a no-op when already connected.
func (c *Client) Connect() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.conn != nil {
		return nil
	}

	var lastErr error
	attempt := 0
	backoff := wait.Backoff{
		Duration: c.interval,
		Factor:   1,
		Steps:    c.attempts,
	}
	err := wait.ExponentialBackoff(backoff, func() (bool, error) {
		attempt++
		conn, err := c.dial("unix", c.path)
		if err != nil {
			c.logger.Debugf("connect attempt %d to %s failed: %v", attempt, c.path, err)
			lastErr = err
			return false, nil
		}
		c.conn = conn
		return true, nil
	})
	if err != nil {
		if lastErr == nil {
			lastErr = err
		}
		return fmt.Errorf("%w: connect %s after %d attempts: %v", types.ErrControlSocket, c.path, attempt, lastErr)
	}

	c.logger.Infof("connected to %s", c.path)
	return nil
}

// Encode frames msg for the wire
func Encode(msg string) ([]byte, error) {
	if len(msg) > MaxMessageLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLong, len(msg))
	}
	buf := make([]byte, 0, len(msg)+1)
	buf = append(buf, byte(len(msg)))
	return append(buf, msg...), nil
}

// Send writes one framed message. A write failure drops the connection so the
// next Connect starts over.
func (c *Client) Send(msg string) error {
	frame, err := Encode(msg)
	if err != nil {
		return err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}

	if _, err := c.conn.Write(frame); err != nil {
		c.logger.Warnf("failed to send %q, dropping connection: %v", msg, err)
		c.conn.Close()
		c.conn = nil
		return fmt.Errorf("%w: send %q: %v", types.ErrControlSocket, msg, err)
	}
	c.logger.Debugf("sent %q", msg)
	return nil
}

func directive(name, arg string) string {
	return strings.Join([]string{name, arg}, constants.DirectiveSeparator)
}

// Allow lets the client with the given MAC through the filter
func (c *Client) Allow(mac string) error {
	return c.Send(directive(constants.DirectiveAllow, mac))
}

// Deny blocks the client with the given MAC
func (c *Client) Deny(mac string) error {
	return c.Send(directive(constants.DirectiveDeny, mac))
}

// Dmz forwards the preserved ports to ip
func (c *Client) Dmz(ip string) error {
	return c.Send(directive(constants.DirectiveDmz, ip))
}

// SetFiltering switches kernel side filtering on or off
func (c *Client) SetFiltering(on bool) error {
	arg := "0"
	if on {
		arg = "1"
	}
	return c.Send(directive(constants.DirectiveFiltering, arg))
}

// Close drops the connection if one is held
func (c *Client) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.logger.Debugf("closed %s", c.path)
	return err
}
