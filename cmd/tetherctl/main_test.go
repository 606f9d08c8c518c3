// Copyright 2024 Authors of barnacle
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/szym/barnacle/pkg/server"
	"github.com/szym/barnacle/pkg/types"
)

func TestHumanBytes(t *testing.T) {
	tests := []struct {
		in   uint64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
	}
	for _, tt := range tests {
		if got := humanBytes(tt.in); got != tt.want {
			t.Errorf("humanBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRenderStatus(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 30, 45, 0, time.UTC)
	s := &types.Status{
		Name:     "wlan-tether",
		State:    types.StateRunning,
		LanIface: "wlan0",
		LanMAC:   "aa:bb:cc:dd:ee:ff",
		Clients: []types.ClientLease{
			{MAC: "11:22:33:44:55:66", IP: "192.168.5.100", Hostname: "phone1", Allowed: true},
		},
		Log: []types.LogLine{
			{Time: now, Text: "running"},
			{Time: now, Error: true, Text: "filtering unavailable"},
		},
	}
	out := renderStatus(s)
	for _, want := range []string{"wlan-tether", "running", "wlan0", "phone1", "allowed", "12:30:45", "filtering unavailable"} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered status is missing %q:\n%s", want, out)
		}
	}
}

func TestRunCommand(t *testing.T) {
	var got []string
	var filter server.FilterRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.Method+" "+r.URL.RequestURI())
		switch {
		case r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(types.Status{Name: "wlan-tether", State: types.StateStopped})
		case strings.HasSuffix(r.URL.Path, "/filter"):
			json.NewDecoder(r.Body).Decode(&filter)
			fallthrough
		default:
			w.WriteHeader(http.StatusAccepted)
			parts := strings.Split(r.URL.Path, "/")
			json.NewEncoder(w).Encode(server.Accepted{Tether: "wlan-tether", Request: parts[len(parts)-1]})
		}
	}))
	defer ts.Close()

	c := newClient(strings.TrimPrefix(ts.URL, "http://"))
	commands := [][]string{
		{"status"},
		{"start"},
		{"stats", "2s"},
		{"filter", "11:22:33:44:55:66", "allow"},
	}
	var out bytes.Buffer
	for _, args := range commands {
		if err := runCommand(c, "wlan-tether", args, &out); err != nil {
			t.Fatalf("%v: %v", args, err)
		}
	}

	want := []string{
		"GET /tethers/wlan-tether",
		"POST /tethers/wlan-tether/start",
		"POST /tethers/wlan-tether/stats?delay=2s",
		"POST /tethers/wlan-tether/filter",
	}
	if len(got) != len(want) {
		t.Fatalf("got requests %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("request %d: got %q, want %q", i, got[i], want[i])
		}
	}
	if filter.MAC != "11:22:33:44:55:66" || !filter.Allowed {
		t.Fatalf("unexpected filter body %+v", filter)
	}
	if !strings.Contains(out.String(), "wlan-tether: start queued") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
}

func TestRunCommandErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": `tether "x" not found`})
	}))
	defer ts.Close()
	c := newClient(strings.TrimPrefix(ts.URL, "http://"))

	var out bytes.Buffer
	if err := runCommand(c, "x", []string{"start"}, &out); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected a not found error, got %v", err)
	}
	for _, args := range [][]string{{}, {"bogus"}, {"filter", "aa:bb:cc:dd:ee:ff"}, {"dmz"}, {"stats", "soon"}} {
		if err := runCommand(c, "x", args, &out); err == nil {
			t.Errorf("%v: expected an error", args)
		}
	}
}
