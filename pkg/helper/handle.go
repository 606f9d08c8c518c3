// Copyright 2024 Authors of barnacle
// SPDX-License-Identifier: Apache-2.0

package helper

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/szym/barnacle/pkg/log"
)

// Stream names one of the helper's output streams
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// Output is one item produced by an output reader: a line, the end of the
// stream (EOF) or a read fault (Err).
type Output struct {
	Handle *Handle
	Stream Stream
	Line   string
	EOF    bool
	Err    error
}

// Handle owns a running helper and its two output readers
type Handle struct {
	proc    Process
	cmd     Command
	readers sync.WaitGroup
	once    sync.Once
}

// Start launches the helper and starts one reader per output stream.
// deliver is called from the reader goroutines and must not block for long.
func Start(launcher Launcher, cmd Command, deliver func(Output)) (*Handle, error) {
	proc, err := launcher.Launch(cmd)
	if err != nil {
		return nil, err
	}

	h := &Handle{proc: proc, cmd: cmd}
	h.readers.Add(2)
	go h.read(Stdout, proc.Stdout(), deliver)
	go h.read(Stderr, proc.Stderr(), deliver)

	log.Logger.Infof("helper started with pid %d", proc.Pid())
	return h, nil
}

// Pid is the process id of the helper
func (h *Handle) Pid() int {
	return h.proc.Pid()
}

func (h *Handle) read(stream Stream, r io.Reader, deliver func(Output)) {
	defer h.readers.Done()

	// lines are unbounded, a long informational line is not a fault
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			deliver(Output{Handle: h, Stream: stream, Line: strings.TrimRight(line, "\r\n")})
		}
		if err == io.EOF {
			deliver(Output{Handle: h, Stream: stream, EOF: true})
			return
		}
		if err != nil {
			log.Logger.Debugf("helper %s reader stopped: %v", stream, err)
			deliver(Output{Handle: h, Stream: stream, Err: err})
			return
		}
	}
}

// Tell writes one directive line to the helper's standard input
func (h *Handle) Tell(directive string) error {
	if _, err := io.WriteString(h.proc.Stdin(), directive+"\n"); err != nil {
		return fmt.Errorf("failed to write %q to helper: %v", directive, err)
	}
	return nil
}

// Terminate closes the helper's input to request a graceful exit and blocks
// until the process is reaped. When it has not exited within timeout it is
// killed. Both output pipes are closed afterwards, which ends the readers.
// It reports whether the helper exited on its own.
func (h *Handle) Terminate(timeout time.Duration) (clean bool) {
	h.once.Do(func() {
		clean = h.terminate(timeout)
	})
	return clean
}

func (h *Handle) terminate(timeout time.Duration) bool {
	if err := h.proc.Stdin().Close(); err != nil {
		log.Logger.Warnf("failed to close helper stdin: %v", err)
	}

	type result struct {
		code int
		err  error
	}
	exited := make(chan result, 1)
	go func() {
		code, err := h.proc.Wait()
		exited <- result{code: code, err: err}
	}()

	clean := true
	var r result
	select {
	case r = <-exited:
	case <-time.After(timeout):
		log.Logger.Warnf("helper pid %d did not exit within %v, killing it", h.proc.Pid(), timeout)
		clean = false
		if err := h.proc.Kill(); err != nil {
			log.Logger.Errorf("failed to kill helper pid %d: %v", h.proc.Pid(), err)
		}
		r = <-exited
	}
	if r.err != nil {
		log.Logger.Errorf("failed to wait for helper pid %d: %v", h.proc.Pid(), r.err)
	} else {
		log.Logger.Infof("helper pid %d exited with status %d", h.proc.Pid(), r.code)
	}

	h.proc.Stdout().Close()
	h.proc.Stderr().Close()
	return clean
}

// WaitReaders blocks until both output readers have returned
func (h *Handle) WaitReaders() {
	h.readers.Wait()
}
