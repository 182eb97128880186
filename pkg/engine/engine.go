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

// Package engine invokes functions exported by JavaScript modules in a
// supervised, long-lived external Node.js process. Modules are referenced by
// file path, inline source, byte stream or a lazy factory, optionally cached
// runtime-side under a caller-chosen identifier; results decode to a typed
// JSON value, a raw string, or an open byte stream.
package engine

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/nodebridge/nodebridge/pkg/connection"
	"github.com/nodebridge/nodebridge/pkg/modulecache"
	"github.com/nodebridge/nodebridge/pkg/nodejs"
	"github.com/nodebridge/nodebridge/pkg/supervisor"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	"golang.org/x/sync/semaphore"
)

// InvokeOptions refine a single invocation
type InvokeOptions struct {

	// ExportName selects the exported function to call; empty means the
	// module's exports value is itself callable
	ExportName string

	// Args are the JSON-serializable arguments, in order
	Args []interface{}

	// Timeout overrides the engine's invocation timeout for this call
	Timeout time.Duration
}

// Engine is the invocation façade. Safe for concurrent use; one engine owns
// one supervised runtime process and one logical connection to it.
type Engine struct {
	logger        logger.Logger
	configuration *Configuration
	supervisor    *supervisor.Supervisor
	coordinator   *modulecache.Coordinator
	semaphore     *semaphore.Weighted

	// ensureMu serializes connection establishment; connMu guards only the
	// conn/disposed fields so Close never waits on a handshake
	ensureMu sync.Mutex

	connMu   sync.Mutex
	conn     *connection.Conn
	disposed bool
}

// NewEngine returns a new engine. The runtime process is spawned lazily on the
// first invocation.
func NewEngine(parentLogger logger.Logger, configuration *Configuration) (*Engine, error) {
	if configuration == nil {
		configuration = &Configuration{}
	}
	configuration.applyDefaults()

	loggerInstance := parentLogger.GetChild("engine")

	startProcess := configuration.StartProcess
	if startProcess == nil {
		startProcess = nodejs.NewStartProcessFunc(loggerInstance, configuration.NodeJS)
	}

	supervisorInstance, err := supervisor.NewSupervisor(loggerInstance, &supervisor.Configuration{
		StartProcess:      startProcess,
		SocketType:        configuration.SocketType,
		ConnectionTimeout: configuration.ConnectionTimeout,
		StopGracePeriod:   configuration.StopGracePeriod,
	})
	if err != nil {
		return nil, errors.Wrap(err, "Failed to create supervisor")
	}

	newEngine := &Engine{
		logger:        loggerInstance,
		configuration: configuration,
		supervisor:    supervisorInstance,
		coordinator:   modulecache.NewCoordinator(loggerInstance),
	}

	if configuration.MaxConcurrency > 0 {
		newEngine.semaphore = semaphore.NewWeighted(configuration.MaxConcurrency)
	}

	return newEngine, nil
}

// InvokeFromPath invokes a module identified by filesystem path. The runtime
// caches the compiled module under that path. A nil target discards the result.
func (e *Engine) InvokeFromPath(ctx context.Context,
	modulePath string,
	options *InvokeOptions,
	target interface{}) error {

	if strings.TrimSpace(modulePath) == "" {
		return &ValidationError{Message: "Module path must not be empty"}
	}

	return e.invoke(ctx, newPathSource(modulePath), options, target)
}

// InvokeFromString invokes an inline module. A non-empty newCacheID asks the
// runtime to cache the compiled module under it; empty means one-time
// compilation.
func (e *Engine) InvokeFromString(ctx context.Context,
	moduleSource string,
	newCacheID string,
	options *InvokeOptions,
	target interface{}) error {

	if strings.TrimSpace(moduleSource) == "" {
		return &ValidationError{Message: "Module source must not be empty"}
	}

	return e.invoke(ctx, newStringSource(moduleSource, newCacheID), options, target)
}

// InvokeFromStringFactory is the lazy two-phase variant of InvokeFromString:
// the engine probes the cache first and only invokes the factory on a
// confirmed miss.
func (e *Engine) InvokeFromStringFactory(ctx context.Context,
	moduleFactory func() (string, error),
	cacheID string,
	options *InvokeOptions,
	target interface{}) error {

	if moduleFactory == nil {
		return &ValidationError{Message: "Module factory must not be nil"}
	}
	if cacheID == "" {
		return &ValidationError{Message: "Factory invocations require a cache identifier"}
	}

	return e.invoke(ctx, newStringFactorySource(moduleFactory, cacheID), options, target)
}

// InvokeFromStream invokes a module read from a byte stream
func (e *Engine) InvokeFromStream(ctx context.Context,
	moduleStream io.Reader,
	newCacheID string,
	options *InvokeOptions,
	target interface{}) error {

	if moduleStream == nil {
		return &ValidationError{Message: "Module stream must not be nil"}
	}

	source, err := io.ReadAll(moduleStream)
	if err != nil {
		return errors.Wrap(err, "Failed to read module stream")
	}
	if strings.TrimSpace(string(source)) == "" {
		return &ValidationError{Message: "Module stream must not be empty"}
	}

	return e.invoke(ctx, newStringSource(string(source), newCacheID), options, target)
}

// InvokeFromStreamFactory is the lazy two-phase variant of InvokeFromStream
func (e *Engine) InvokeFromStreamFactory(ctx context.Context,
	moduleFactory func() (io.Reader, error),
	cacheID string,
	options *InvokeOptions,
	target interface{}) error {

	if moduleFactory == nil {
		return &ValidationError{Message: "Module factory must not be nil"}
	}
	if cacheID == "" {
		return &ValidationError{Message: "Factory invocations require a cache identifier"}
	}

	return e.invoke(ctx, newStreamFactorySource(moduleFactory, cacheID), options, target)
}

// TryInvokeFromCache invokes a module only if the runtime already has it
// compiled under the identifier. A miss returns (false, nil), never an error.
func (e *Engine) TryInvokeFromCache(ctx context.Context,
	cacheID string,
	options *InvokeOptions,
	target interface{}) (bool, error) {

	if cacheID == "" {
		return false, &ValidationError{Message: "Cache identifier must not be empty"}
	}

	return e.tryInvoke(ctx, newCacheOnlySource(cacheID), options, target)
}

// Close terminates the runtime process, fails every pending invocation with
// the disposed failure, and makes all later calls fail the same way
func (e *Engine) Close() error {
	e.connMu.Lock()
	if e.disposed {
		e.connMu.Unlock()
		return nil
	}
	e.disposed = true
	conn := e.conn
	e.conn = nil
	e.connMu.Unlock()

	e.logger.DebugWith("Closing engine")

	if conn != nil {
		conn.CloseWithError(ErrDisposed)
	}

	return e.supervisor.Close()
}
