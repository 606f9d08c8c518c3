// Copyright 2024 Authors of barnacle
// SPDX-License-Identifier: Apache-2.0

package sessionlog

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestAppendRolls(t *testing.T) {
	l := New(3)
	for i := 0; i < 5; i++ {
		l.Append(i%2 == 1, fmt.Sprintf("line %d", i))
	}
	lines := l.Lines()
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	if lines[0].Text != "line 2" || lines[2].Text != "line 4" {
		t.Fatalf("unexpected retained lines: %+v", lines)
	}
	if !lines[1].Error {
		t.Fatalf("error flag lost")
	}
}

func TestTextAndClear(t *testing.T) {
	l := New(0)
	l.now = func() time.Time { return time.Date(2024, 1, 1, 13, 4, 5, 0, time.UTC) }
	l.Append(false, "starting")
	l.Append(true, "su: not found")

	want := "13:04:05\tstarting\n13:04:05\tsu: not found\n"
	if got := l.Text(); got != want {
		t.Fatalf("Text() = %q, want %q", got, want)
	}
	l.Clear()
	if strings.TrimSpace(l.Text()) != "" || len(l.Lines()) != 0 {
		t.Fatalf("expected empty log after Clear")
	}
}
