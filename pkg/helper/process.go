// Copyright 2024 Authors of barnacle
// SPDX-License-Identifier: Apache-2.0

// Package helper starts and supervises the privileged tethering helper process.
package helper

import (
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/szym/barnacle/pkg/log"
)

// Command describes how to start the helper
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Path + " " + strings.Join(c.Args, " "))
}

// Process is a started helper with its three standard streams
type Process interface {
	Pid() int
	Stdin() io.WriteCloser
	Stdout() io.ReadCloser
	Stderr() io.ReadCloser
	// Wait blocks until the process exits and reaps it, returning the exit code
	Wait() (int, error)
	Kill() error
}

// Launcher starts helper processes
type Launcher interface {
	Launch(cmd Command) (Process, error)
}

// ExecLauncher starts the helper as an OS process
type ExecLauncher struct{}

var _ Launcher = ExecLauncher{}

// Launch starts cmd with piped standard streams
func (ExecLauncher) Launch(c Command) (Process, error) {
	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = c.Env
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %v", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %v", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %v", err)
	}

	log.Logger.Infof("starting helper with command: %s", c.String())
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	return &execProcess{cmd: cmd, stdin: stdin, stdout: stdout, stderr: stderr}, nil
}

// execProcess reaps through os.Process rather than exec.Cmd.Wait, which would
// close the output pipes while the readers still drain them.
type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
}

func (p *execProcess) Pid() int              { return p.cmd.Process.Pid }
func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Stdout() io.ReadCloser { return p.stdout }
func (p *execProcess) Stderr() io.ReadCloser { return p.stderr }
func (p *execProcess) Kill() error           { return p.cmd.Process.Kill() }

func (p *execProcess) Wait() (int, error) {
	state, err := p.cmd.Process.Wait()
	if err != nil {
		return -1, err
	}
	return state.ExitCode(), nil
}
