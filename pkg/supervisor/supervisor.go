/*
Copyright 2024 The Nodebridge Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package supervisor

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/nodebridge/nodebridge/pkg/common"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	"github.com/rs/xid"
)

const (
	socketPathTemplate       = "/tmp/nodebridge-%s.sock"
	defaultConnectionTimeout = 10 * time.Second
	defaultStopGracePeriod   = 2 * time.Second
)

var ErrDisposed = errors.New("Supervisor is disposed")

// Supervisor owns the lifecycle of the external runtime process: spawn with a
// dial-back listener, observe exit in the background, respawn on the next
// EnsureRunning. Each spawn bumps the generation counter; a RuntimeProcess of
// an older generation must not be used.
type Supervisor struct {
	logger        logger.Logger
	configuration *Configuration

	// spawnMu serializes spawns; mu guards the state fields only, so state
	// reads and disposal never stall behind a spawn blocked in Accept
	spawnMu sync.Mutex

	mu         sync.Mutex
	current    *RuntimeProcess
	generation uint64
	disposed   bool
}

// NewSupervisor returns a new supervisor. No process is spawned until the
// first EnsureRunning call.
func NewSupervisor(parentLogger logger.Logger, configuration *Configuration) (*Supervisor, error) {
	if configuration == nil || configuration.StartProcess == nil {
		return nil, errors.New("Configuration must provide a StartProcess function")
	}

	if configuration.ConnectionTimeout == 0 {
		configuration.ConnectionTimeout = defaultConnectionTimeout
	}
	if configuration.StopGracePeriod == 0 {
		configuration.StopGracePeriod = defaultStopGracePeriod
	}

	return &Supervisor{
		logger:        parentLogger.GetChild("supervisor"),
		configuration: configuration,
	}, nil
}

// EnsureRunning returns the current live runtime process, spawning a new one
// if none exists or the previous one exited. Spawn failures are returned as-is
// and not retried here; the caller decides whether to retry the invocation.
func (s *Supervisor) EnsureRunning(ctx context.Context) (*RuntimeProcess, error) {
	s.spawnMu.Lock()
	defer s.spawnMu.Unlock()

	s.mu.Lock()

	if s.disposed {
		s.mu.Unlock()
		return nil, ErrDisposed
	}

	if err := ctx.Err(); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	if s.current != nil && s.current.Alive() {
		current := s.current
		s.mu.Unlock()
		return current, nil
	}

	if s.current != nil {
		s.logger.WarnWith("Runtime process exited, respawning",
			"generation", s.current.Generation)

		// the watcher already closed the connection, this is for good measure
		s.current.Conn.Close() // nolint: errcheck
		s.current = nil
	}
	s.mu.Unlock()

	// the spawn blocks in Accept for up to ConnectionTimeout; it must not
	// hold the state lock while doing so
	runtimeProcess, err := s.spawn()
	if err != nil {
		return nil, errors.Wrap(err, "Failed to spawn runtime process")
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()

		// Close ran while we were spawning
		runtimeProcess.Process.Kill() // nolint: errcheck
		runtimeProcess.Conn.Close()   // nolint: errcheck
		return nil, ErrDisposed
	}
	s.current = runtimeProcess
	s.mu.Unlock()

	return runtimeProcess, nil
}

// CurrentGeneration returns the generation counter of the most recent spawn
func (s *Supervisor) CurrentGeneration() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.generation
}

// Discard kills the runtime process of the given generation, if it is still
// the current one. Called after a transport failure so that the next
// EnsureRunning performs a clean respawn.
func (s *Supervisor) Discard(generation uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil || s.current.Generation != generation {
		return
	}

	s.logger.WarnWith("Discarding runtime process", "generation", generation)

	if s.current.Alive() {
		s.current.Process.Kill() // nolint: errcheck
	}
	s.current.Conn.Close() // nolint: errcheck

	// drop it now rather than waiting for the watcher to observe the exit, so
	// the very next EnsureRunning spawns a fresh generation
	s.current = nil
}

// Close terminates the runtime process and marks the supervisor disposed.
// Any EnsureRunning call from here on fails with ErrDisposed.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return nil
	}
	s.disposed = true

	if s.current == nil {
		return nil
	}

	runtimeProcess := s.current
	s.current = nil

	runtimeProcess.Conn.Close() // nolint: errcheck

	if !runtimeProcess.Alive() {
		return nil
	}

	// ask nicely first, SIGKILL after the grace period
	if err := runtimeProcess.Process.Signal(syscall.SIGTERM); err != nil {
		return errors.Wrap(err, "Failed to signal runtime process")
	}

	select {
	case <-runtimeProcess.Done():
	case <-time.After(s.configuration.StopGracePeriod):
		s.logger.WarnWith("Runtime process ignored SIGTERM, killing",
			"generation", runtimeProcess.Generation)
		runtimeProcess.Process.Kill() // nolint: errcheck
	}

	return nil
}

func (s *Supervisor) spawn() (*RuntimeProcess, error) {
	var listener net.Listener
	var address string
	var err error

	if s.configuration.SocketType == UnixSocket {
		listener, address, err = s.createUnixListener()
	} else {
		listener, address, err = s.createTCPListener()
	}
	if err != nil {
		return nil, errors.Wrap(err, "Failed to create listener")
	}
	defer listener.Close() // nolint: errcheck

	process, err := s.configuration.StartProcess(address)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to start runtime process")
	}

	conn, err := listener.Accept()
	if err != nil {
		process.Kill() // nolint: errcheck
		return nil, errors.Wrap(err, "Runtime process did not connect back")
	}

	s.mu.Lock()
	s.generation++
	generation := s.generation
	s.mu.Unlock()

	runtimeProcess := &RuntimeProcess{
		Generation: generation,
		Process:    process,
		Conn:       conn,
		doneCh:     make(chan struct{}),
	}

	s.logger.InfoWith("Runtime process connected",
		"generation", runtimeProcess.Generation,
		"pid", process.Pid)

	go s.watch(runtimeProcess)

	return runtimeProcess, nil
}

// watch blocks until the runtime process terminates (non-zero exit and
// external kill included), then marks it dead and severs its connection so
// pending reads fail immediately
func (s *Supervisor) watch(runtimeProcess *RuntimeProcess) {
	result := <-waitForProcess(runtimeProcess.Process)

	if result.ProcessState != nil {
		s.logger.WarnWith("Runtime process exited",
			"generation", runtimeProcess.Generation,
			"state", result.ProcessState.String())
	} else {
		s.logger.WarnWith("Runtime process wait failed",
			"generation", runtimeProcess.Generation,
			"err", result.Err)
	}

	close(runtimeProcess.doneCh)
	runtimeProcess.Conn.Close() // nolint: errcheck
}

// Create a listener on a unix domain socket, return listener and address
func (s *Supervisor) createUnixListener() (net.Listener, string, error) {
	socketPath := fmt.Sprintf(socketPathTemplate, xid.New().String())

	if common.FileExists(socketPath) {
		if err := os.Remove(socketPath); err != nil {
			return nil, "", errors.Wrapf(err, "Failed to remove socket at %q", socketPath)
		}
	}

	s.logger.DebugWith("Creating listener socket", "path", socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, "", errors.Wrapf(err, "Failed to listen on %s", socketPath)
	}

	unixListener, ok := listener.(*net.UnixListener)
	if !ok {
		return nil, "", errors.New("Failed to get underlying unix listener")
	}
	if err := unixListener.SetDeadline(time.Now().Add(s.configuration.ConnectionTimeout)); err != nil {
		return nil, "", errors.Wrap(err, "Failed to set deadline")
	}

	return listener, "unix:" + socketPath, nil
}

// Create a listener on a loopback TCP port, return listener and address
func (s *Supervisor) createTCPListener() (net.Listener, string, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, "", errors.Wrap(err, "Failed to find free port")
	}

	tcpListener, ok := listener.(*net.TCPListener)
	if !ok {
		return nil, "", errors.New("Failed to get underlying TCP listener")
	}
	if err := tcpListener.SetDeadline(time.Now().Add(s.configuration.ConnectionTimeout)); err != nil {
		return nil, "", errors.Wrap(err, "Failed to set deadline")
	}

	return listener, "tcp:" + listener.Addr().String(), nil
}
