// Copyright 2024 Authors of barnacle
// SPDX-License-Identifier: Apache-2.0

// tetherctl talks to the tetherd control server.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/szym/barnacle/pkg/constants"
	"github.com/szym/barnacle/pkg/server"
	"github.com/szym/barnacle/pkg/types"
)

const usage = `usage: tetherctl [-addr host:port|unix:/path] [-name tether] <command>

commands:
  status                 print the tether status
  list                   print every tether
  start | stop | assoc   queue a request
  stats [delay]          poll traffic counters, optionally after a delay
  filter <mac> allow|deny
  dmz <ip>
`

func main() {
	addr := flag.String("addr", defaultAddr(), "control server address")
	name := flag.String("name", constants.DefaultName, "tether name")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	c := newClient(*addr)
	if err := runCommand(c, *name, flag.Args(), os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "tetherctl: %v\n", err)
		os.Exit(1)
	}
}

func defaultAddr() string {
	if v := os.Getenv(constants.EnvListen); v != "" {
		return v
	}
	return constants.DefaultListen
}

func runCommand(c *client, name string, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("no command given\n%s", usage)
	}
	path := "/tethers/" + name

	switch cmd := args[0]; cmd {
	case "status":
		var s types.Status
		if err := c.do(http.MethodGet, path, nil, &s); err != nil {
			return err
		}
		fmt.Fprint(out, renderStatus(&s))
	case "list":
		var list []types.Status
		if err := c.do(http.MethodGet, "/tethers", nil, &list); err != nil {
			return err
		}
		for i := range list {
			fmt.Fprintf(out, "%s\t%s\t%d clients\n", list[i].Name, list[i].State, len(list[i].Clients))
		}
	case "start", "stop", "assoc":
		return c.queue(out, path+"/"+cmd, nil)
	case "stats":
		target := path + "/stats"
		if len(args) > 1 {
			if _, err := time.ParseDuration(args[1]); err != nil {
				return fmt.Errorf("invalid delay %q", args[1])
			}
			target += "?delay=" + args[1]
		}
		return c.queue(out, target, nil)
	case "filter":
		if len(args) != 3 || (args[2] != "allow" && args[2] != "deny") {
			return fmt.Errorf("usage: filter <mac> allow|deny")
		}
		return c.queue(out, path+"/filter", server.FilterRequest{MAC: args[1], Allowed: args[2] == "allow"})
	case "dmz":
		if len(args) != 2 {
			return fmt.Errorf("usage: dmz <ip>")
		}
		return c.queue(out, path+"/dmz", server.DmzRequest{IP: args[1]})
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
	return nil
}

type client struct {
	base string
	http *http.Client
}

// newClient builds a client for a tcp or unix:/path address
func newClient(addr string) *client {
	c := &client{http: &http.Client{Timeout: 10 * time.Second}}
	if path, ok := strings.CutPrefix(addr, "unix:"); ok {
		c.base = "http://tetherd"
		c.http.Transport = &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", path)
			},
		}
		return c
	}
	c.base = "http://" + addr
	return c
}

func (c *client) do(method, path string, body, into interface{}) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, e.Error)
		}
		return fmt.Errorf("%s", resp.Status)
	}
	if into == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(into)
}

func (c *client) queue(out io.Writer, path string, body interface{}) error {
	var acc server.Accepted
	if err := c.do(http.MethodPost, path, body, &acc); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: %s queued\n", acc.Tether, acc.Request)
	return nil
}
