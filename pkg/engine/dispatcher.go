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
	"context"
	"encoding/json"
	"time"

	"github.com/nodebridge/nodebridge/pkg/connection"
	"github.com/nodebridge/nodebridge/pkg/modulecache"
	"github.com/nodebridge/nodebridge/pkg/protocol"

	"github.com/nuclio/errors"
	"github.com/rs/xid"
)

// invoke runs the full dispatch pipeline for result-or-error operations
func (e *Engine) invoke(ctx context.Context,
	source *moduleSource,
	options *InvokeOptions,
	target interface{}) error {

	response, err := e.dispatch(ctx, source, options)
	if err != nil {
		return err
	}

	if response.Status == protocol.StatusError {
		runtimeError := &RuntimeError{Message: "Runtime reported an error"}
		if response.Error != nil {
			runtimeError.Message = response.Error.Message
			runtimeError.Stack = response.Error.Stack
		}
		return runtimeError
	}

	return decodeResponse(response, target)
}

// tryInvoke runs the pipeline for the cache-only operation, mapping a miss to
// a found=false outcome instead of an error
func (e *Engine) tryInvoke(ctx context.Context,
	source *moduleSource,
	options *InvokeOptions,
	target interface{}) (bool, error) {

	response, err := e.dispatch(ctx, source, options)
	if err != nil {
		return false, err
	}

	switch response.Status {
	case protocol.StatusNotFound:
		return false, nil
	case protocol.StatusError:
		runtimeError := &RuntimeError{Message: "Runtime reported an error"}
		if response.Error != nil {
			runtimeError.Message = response.Error.Message
			runtimeError.Stack = response.Error.Stack
		}
		return false, runtimeError
	}

	return true, decodeResponse(response, target)
}

// dispatch validates arguments are serializable, ensures a live runtime
// process, runs the cache negotiation and applies the single-retry policy: a
// generation-stale or transport failure triggers one resubmission against a
// freshly ensured generation; a second failure surfaces as a connectivity
// failure. Timeouts, cancellation and runtime errors are never retried.
func (e *Engine) dispatch(ctx context.Context,
	source *moduleSource,
	options *InvokeOptions) (*protocol.Response, error) {

	if options == nil {
		options = &InvokeOptions{}
	}

	if err := validateArgs(options.Args); err != nil {
		return nil, err
	}

	if e.semaphore != nil {
		if err := e.semaphore.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer e.semaphore.Release(1)
	}

	var lastErr error

	for attempt := 0; attempt < 2; attempt++ {
		conn, err := e.ensureConn(ctx)
		if err != nil {
			if IsDisposed(err) || ctx.Err() != nil {
				return nil, err
			}
			return nil, errors.Wrap(&ConnectivityError{Err: err}, "Failed to ensure runtime process")
		}

		response, err := e.negotiateAndSend(ctx, conn, source, options)
		if err == nil {
			return response, nil
		}

		if !isRetryable(ctx, err) {
			return nil, err
		}

		e.logger.WarnWith("Invocation failed, retrying against a fresh runtime process",
			"attempt", attempt,
			"generation", conn.Generation(),
			"err", err)

		// a fresh generation requires discarding the one we failed against
		e.supervisor.Discard(conn.Generation())
		lastErr = err
	}

	return nil, errors.Wrap(&ConnectivityError{Err: lastErr}, "Invocation failed after retry")
}

// negotiateAndSend selects the request shape per the cache negotiation
// protocol and performs the round trip(s) for one attempt
func (e *Engine) negotiateAndSend(ctx context.Context,
	conn *connection.Conn,
	source *moduleSource,
	options *InvokeOptions) (*protocol.Response, error) {

	generation := conn.Generation()
	timeout := options.Timeout
	if timeout == 0 {
		timeout = e.configuration.InvocationTimeout
	}

	// no identifier: one-shot full send, nothing to negotiate
	if source.cacheID == "" {
		return e.send(ctx, conn, source.fullRef(), options, timeout)
	}

	if source.cacheOnly || e.coordinator.ShouldProbe(source.cacheID, generation, source.materializedBody) {
		negotiation := modulecache.NewNegotiation(source.cacheID, !source.cacheOnly)

		response, err := e.send(ctx, conn, source.probeRef(), options, timeout)
		if err != nil {
			return nil, err
		}

		if response.Status != protocol.StatusNotFound {
			if err := negotiation.OnProbeHit(); err != nil {
				return nil, err
			}
			if err := negotiation.Complete(); err != nil {
				return nil, err
			}
			e.coordinator.MarkPresent(source.cacheID, generation)
			return response, nil
		}

		sendFallback, err := negotiation.OnProbeMiss()
		if err != nil {
			return nil, err
		}
		if !sendFallback {

			// cache-only invocation, the miss is the outcome
			return response, nil
		}

		if err := source.materialize(); err != nil {
			return nil, err
		}

		response, err = e.send(ctx, conn, source.fullRef(), options, timeout)
		if err != nil {
			return nil, err
		}
		if err := negotiation.Complete(); err != nil {
			return nil, err
		}

		if response.Status == protocol.StatusOK {
			e.coordinator.MarkPresent(source.cacheID, generation)
		}
		return response, nil
	}

	// identifier plus body: send both, the runtime reuses or compile-and-stores
	if err := source.materialize(); err != nil {
		return nil, err
	}

	response, err := e.send(ctx, conn, source.fullRef(), options, timeout)
	if err != nil {
		return nil, err
	}

	if response.Status == protocol.StatusOK {
		e.coordinator.MarkPresent(source.cacheID, generation)
	}
	return response, nil
}

// send performs one round trip, racing the caller's cancellation signal with
// the per-invocation deadline
func (e *Engine) send(ctx context.Context,
	conn *connection.Conn,
	moduleRef protocol.ModuleRef,
	options *InvokeOptions,
	timeout time.Duration) (*protocol.Response, error) {

	request := &protocol.Request{
		ID:     xid.New().String(),
		Module: moduleRef,
		Export: options.ExportName,
		Args:   options.Args,
	}
	if request.Args == nil {
		request.Args = []interface{}{}
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	response, err := conn.Send(callCtx, request, conn.Generation())
	if err == nil {
		return response, nil
	}

	switch {
	case errors.RootCause(ctx.Err()) == context.Canceled:

		// caller-initiated, distinct from the deadline
		return nil, ctx.Err()

	case errors.RootCause(err) == context.DeadlineExceeded:
		return nil, &TimeoutError{Timeout: timeout}

	default:
		return nil, err
	}
}

// ensureConn returns the connection bound to the current runtime process
// generation, building a fresh one after a respawn. The start-frame handshake
// runs under ensureMu only, never connMu, so disposal is never stuck behind a
// runtime process that dialed back but went silent.
func (e *Engine) ensureConn(ctx context.Context) (*connection.Conn, error) {
	e.ensureMu.Lock()
	defer e.ensureMu.Unlock()

	e.connMu.Lock()
	if e.disposed {
		e.connMu.Unlock()
		return nil, ErrDisposed
	}
	conn := e.conn
	e.connMu.Unlock()

	runtimeProcess, err := e.supervisor.EnsureRunning(ctx)
	if err != nil {
		return nil, err
	}

	if conn != nil && conn.Generation() == runtimeProcess.Generation {
		return conn, nil
	}

	if conn != nil {
		conn.Close()
	}

	newConn := connection.New(e.logger, runtimeProcess.Conn, runtimeProcess.Generation, e.configuration.Codec)

	// readiness gets the same bound the supervisor gives the dial-back
	handshakeCtx, cancel := context.WithTimeout(ctx, e.configuration.ConnectionTimeout)
	defer cancel()

	if err := newConn.WaitStart(handshakeCtx); err != nil {
		newConn.Close()
		e.supervisor.Discard(runtimeProcess.Generation)
		return nil, errors.Wrap(err, "Runtime process did not announce readiness")
	}

	e.connMu.Lock()
	if e.disposed {
		e.connMu.Unlock()
		newConn.Close()
		return nil, ErrDisposed
	}
	e.conn = newConn
	e.connMu.Unlock()

	return newConn, nil
}

func validateArgs(args []interface{}) error {
	if len(args) == 0 {
		return nil
	}

	if _, err := json.Marshal(args); err != nil {
		return &ValidationError{Message: "Arguments are not JSON-serializable: " + err.Error()}
	}

	return nil
}

// isRetryable reports whether a failure may be resubmitted once against a
// fresh generation: stale-generation and transport failures qualify, anything
// attributable to the caller or the runtime's own answer does not
func isRetryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if IsDisposed(err) || IsTimeout(err) || IsValidationError(err) || IsRuntimeError(err) {
		return false
	}

	return true
}
