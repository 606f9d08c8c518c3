// Copyright 2024 Authors of barnacle
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/szym/barnacle/pkg/types"
)

var (
	titleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("57")).Bold(true)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	timeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#ffffff"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff2222"))
	lineStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#bbbbbb"))
)

var stateColors = map[types.State]lipgloss.Color{
	types.StateStopped:  lipgloss.Color("160"),
	types.StateStarting: lipgloss.Color("214"),
	types.StateRunning:  lipgloss.Color("70"),
}

func renderStatus(s *types.Status) string {
	var b strings.Builder

	state := lipgloss.NewStyle().Foreground(stateColors[s.State]).Bold(true).Render(s.State.String())
	b.WriteString(titleStyle.Render(s.Name) + "  " + state + "\n")

	if s.State == types.StateRunning {
		b.WriteString(labelStyle.Render("lan:       ") + fmt.Sprintf("%s %s\n", s.LanIface, s.LanMAC))
	}
	filtering := "off"
	if s.Filtering {
		filtering = "on"
	}
	b.WriteString(labelStyle.Render("filtering: ") + filtering + "\n")

	t := s.Traffic
	b.WriteString(labelStyle.Render("traffic:   ") + fmt.Sprintf("rx %s (%s/s, %d pkts)  tx %s (%s/s, %d pkts)\n",
		humanBytes(t.Total.RxBytes), humanBytes(t.Rate.RxBytes), t.Total.RxPackets,
		humanBytes(t.Total.TxBytes), humanBytes(t.Rate.TxBytes), t.Total.TxPackets))

	b.WriteString(labelStyle.Render(fmt.Sprintf("clients (%d):", len(s.Clients))) + "\n")
	for _, c := range s.Clients {
		verdict := "denied"
		if c.Allowed {
			verdict = "allowed"
		}
		b.WriteString(fmt.Sprintf("  %-20s %-17s %-15s %s\n", c.DisplayName(), c.MAC, c.IP, verdict))
	}

	b.WriteString(labelStyle.Render("log:") + "\n")
	b.WriteString(renderLog(s.Log))
	return b.String()
}

// renderLog colors the session log: white times, red errors, grey text
func renderLog(lines []types.LogLine) string {
	var b strings.Builder
	for _, l := range lines {
		text := lineStyle.Render(l.Text)
		if l.Error {
			text = errorStyle.Render(l.Text)
		}
		b.WriteString(timeStyle.Render(l.Time.Format("15:04:05")) + "\t" + text + "\n")
	}
	return b.String()
}

func humanBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
