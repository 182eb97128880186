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

package engine

import (
	"time"

	"github.com/nodebridge/nodebridge/pkg/connection"
	"github.com/nodebridge/nodebridge/pkg/nodejs"
	"github.com/nodebridge/nodebridge/pkg/supervisor"
)

const (
	defaultInvocationTimeout = 60 * time.Second
	defaultConnectionTimeout = 10 * time.Second
)

// Configuration holds engine settings
type Configuration struct {

	// NodeJS configures the default Node.js runtime process. Ignored when
	// StartProcess is set.
	NodeJS *nodejs.Configuration

	// StartProcess overrides how the runtime process is launched
	StartProcess supervisor.StartProcessFunc

	// SocketType selects the dial-back channel, unix domain socket by default
	SocketType supervisor.SocketType

	// Codec selects the request encoding. The bundled harness speaks JSON.
	Codec connection.Codec

	// InvocationTimeout bounds every invocation round trip, 60s by default.
	// Overridable per call through InvokeOptions.Timeout.
	InvocationTimeout time.Duration

	// ConnectionTimeout bounds how long a spawned process may take to connect
	// back and announce readiness, 10s by default
	ConnectionTimeout time.Duration

	// StopGracePeriod is how long Close waits between SIGTERM and SIGKILL
	StopGracePeriod time.Duration

	// MaxConcurrency caps concurrent in-flight invocations, 0 means unlimited
	MaxConcurrency int64
}

func (c *Configuration) applyDefaults() {
	if c.Codec == "" {
		c.Codec = connection.CodecJSON
	}
	if c.InvocationTimeout == 0 {
		c.InvocationTimeout = defaultInvocationTimeout
	}
	if c.ConnectionTimeout == 0 {
		c.ConnectionTimeout = defaultConnectionTimeout
	}
}
