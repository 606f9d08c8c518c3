// Copyright 2024 Authors of barnacle
// SPDX-License-Identifier: Apache-2.0

// Package helpertest provides an in-memory helper process for tests.
package helpertest

import (
	"bufio"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/szym/barnacle/pkg/helper"
)

// Process is a fake helper wired to in-memory pipes
type Process struct {
	pid int

	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	// IgnoreStdinClose keeps the process alive after its input is closed
	IgnoreStdinClose bool

	mutex    sync.Mutex
	received []string
	exitCode int
	exited   chan struct{}
	once     sync.Once
	killed   atomic.Bool
	onReap   func()
}

var _ helper.Process = (*Process)(nil)

func newProcess(pid int, ignoreStdinClose bool, onReap func()) *Process {
	p := &Process{pid: pid, exited: make(chan struct{}), IgnoreStdinClose: ignoreStdinClose, onReap: onReap}
	p.stdinR, p.stdinW = io.Pipe()
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()
	go p.consumeStdin()
	return p
}

func (p *Process) consumeStdin() {
	scanner := bufio.NewScanner(p.stdinR)
	for scanner.Scan() {
		p.mutex.Lock()
		p.received = append(p.received, scanner.Text())
		p.mutex.Unlock()
	}
	if !p.IgnoreStdinClose {
		p.Exit(0)
	}
}

func (p *Process) Pid() int              { return p.pid }
func (p *Process) Stdin() io.WriteCloser { return p.stdinW }
func (p *Process) Stdout() io.ReadCloser { return p.stdoutR }
func (p *Process) Stderr() io.ReadCloser { return p.stderrR }

func (p *Process) Wait() (int, error) {
	<-p.exited
	if p.onReap != nil {
		p.onReap()
	}
	return p.exitCode, nil
}

func (p *Process) Kill() error {
	p.killed.Store(true)
	p.Exit(-1)
	return nil
}

// Killed reports whether the process was force killed
func (p *Process) Killed() bool {
	return p.killed.Load()
}

// Exit ends the process: both output streams reach EOF
func (p *Process) Exit(code int) {
	p.once.Do(func() {
		p.exitCode = code
		p.stdoutW.Close()
		p.stderrW.Close()
		p.stdinR.Close()
		close(p.exited)
	})
}

// Exited reports whether the process has ended
func (p *Process) Exited() bool {
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}

// WriteStdout writes a line to the process standard output
func (p *Process) WriteStdout(line string) error {
	_, err := io.WriteString(p.stdoutW, line+"\n")
	return err
}

// WriteStderr writes a line to the process standard error
func (p *Process) WriteStderr(line string) error {
	_, err := io.WriteString(p.stderrW, line+"\n")
	return err
}

// Received returns the lines the process read from its standard input
func (p *Process) Received() []string {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	out := make([]string, len(p.received))
	copy(out, p.received)
	return out
}

// Launcher hands out fake processes and tracks how many are alive at once
type Launcher struct {
	// Err makes every Launch fail
	Err error
	// IgnoreStdinClose is copied into every launched process
	IgnoreStdinClose bool

	mutex    sync.Mutex
	procs    []*Process
	commands []helper.Command
	alive    int
	maxAlive int
	nextPid  int
}

var _ helper.Launcher = (*Launcher)(nil)

// ErrLaunch is a ready-made launch failure
var ErrLaunch = errors.New("exec: permission denied")

func (l *Launcher) Launch(cmd helper.Command) (helper.Process, error) {
	if l.Err != nil {
		return nil, l.Err
	}

	l.mutex.Lock()
	l.nextPid++
	l.alive++
	if l.alive > l.maxAlive {
		l.maxAlive = l.alive
	}
	var reaped sync.Once
	p := newProcess(1000+l.nextPid, l.IgnoreStdinClose, func() {
		reaped.Do(func() {
			l.mutex.Lock()
			l.alive--
			l.mutex.Unlock()
		})
	})
	l.procs = append(l.procs, p)
	l.commands = append(l.commands, cmd)
	l.mutex.Unlock()

	return p, nil
}

// Processes returns every process launched so far
func (l *Launcher) Processes() []*Process {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	out := make([]*Process, len(l.procs))
	copy(out, l.procs)
	return out
}

// Last returns the most recently launched process, or nil
func (l *Launcher) Last() *Process {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if len(l.procs) == 0 {
		return nil
	}
	return l.procs[len(l.procs)-1]
}

// Commands returns the commands passed to Launch
func (l *Launcher) Commands() []helper.Command {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	out := make([]helper.Command, len(l.commands))
	copy(out, l.commands)
	return out
}

// MaxAlive is the highest number of launched but not yet reaped processes
func (l *Launcher) MaxAlive() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.maxAlive
}

// Alive is the number of launched but not yet reaped processes
func (l *Launcher) Alive() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.alive
}
