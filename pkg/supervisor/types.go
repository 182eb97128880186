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
	"net"
	"os"
	"time"
)

// SocketType is the type of socket the runtime process dials back into
type SocketType int

const (
	UnixSocket SocketType = iota
	TCPSocket
)

// StartProcessFunc launches the runtime process, instructing it to connect to
// the given address ("unix:<path>" or "tcp:<host:port>"). It returns the
// started process without waiting for it to exit.
type StartProcessFunc func(address string) (*os.Process, error)

// Configuration holds supervisor settings
type Configuration struct {
	StartProcess StartProcessFunc
	SocketType   SocketType

	// ConnectionTimeout bounds how long a freshly spawned process may take to
	// dial back before the spawn is considered failed
	ConnectionTimeout time.Duration

	// StopGracePeriod is how long Close waits after SIGTERM before SIGKILL
	StopGracePeriod time.Duration
}

// RuntimeProcess is one live instance of the supervised runtime process. Owned
// exclusively by the Supervisor; holders must re-fetch via EnsureRunning once
// Done fires.
type RuntimeProcess struct {
	Generation uint64
	Process    *os.Process
	Conn       net.Conn

	doneCh chan struct{}
}

// Done returns a channel closed when the process exits, for any reason
func (rp *RuntimeProcess) Done() <-chan struct{} {
	return rp.doneCh
}

// Alive returns whether the process has not been observed to exit yet
func (rp *RuntimeProcess) Alive() bool {
	select {
	case <-rp.doneCh:
		return false
	default:
		return true
	}
}
