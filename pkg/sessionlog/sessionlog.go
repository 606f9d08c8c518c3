// Copyright 2024 Authors of barnacle
// SPDX-License-Identifier: Apache-2.0

// Package sessionlog holds the rolling, timestamped log of one tethering session.
package sessionlog

import (
	"strings"
	"time"

	"github.com/szym/barnacle/pkg/constants"
	"github.com/szym/barnacle/pkg/log"
	"github.com/szym/barnacle/pkg/types"
)

// Log keeps the most recent lines of the session. Not synchronized.
type Log struct {
	capacity int
	lines    []types.LogLine
	now      func() time.Time
}

// New returns a log holding at most capacity lines
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = constants.SessionLogCapacity
	}
	return &Log{capacity: capacity, now: time.Now}
}

// Append adds a line and mirrors it to the process logger
func (l *Log) Append(isError bool, text string) {
	if isError {
		log.Logger.Errorf("%s", text)
	} else {
		log.Logger.Infof("%s", text)
	}

	l.lines = append(l.lines, types.LogLine{Time: l.now(), Error: isError, Text: text})
	if over := len(l.lines) - l.capacity; over > 0 {
		l.lines = append(l.lines[:0], l.lines[over:]...)
	}
}

func (l *Log) Clear() {
	l.lines = nil
}

// Lines returns a copy of the retained lines
func (l *Log) Lines() []types.LogLine {
	out := make([]types.LogLine, len(l.lines))
	copy(out, l.lines)
	return out
}

// Text joins the retained lines as "15:04:05\ttext" rows
func (l *Log) Text() string {
	var sb strings.Builder
	for _, line := range l.lines {
		sb.WriteString(line.Time.Format("15:04:05"))
		sb.WriteByte('\t')
		sb.WriteString(line.Text)
		sb.WriteByte('\n')
	}
	return sb.String()
}
