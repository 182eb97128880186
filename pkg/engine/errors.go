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
	"fmt"
	"time"

	"github.com/nodebridge/nodebridge/pkg/supervisor"

	"github.com/nuclio/errors"
)

// ErrDisposed is returned by any operation attempted on, or pending inside,
// an engine that has been closed
var ErrDisposed = errors.New("Engine is disposed")

// ValidationError indicates malformed or missing input. The runtime process is
// never contacted.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ConnectivityError indicates a channel to a live runtime process could not be
// established or re-established within the retry policy
type ConnectivityError struct {
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("Failed to reach runtime process: %s", e.Err)
}

// TimeoutError indicates the request was sent but no response arrived within
// the per-invocation deadline. Distinct from caller-initiated cancellation.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("Invocation timed out after %s", e.Timeout)
}

// RuntimeError carries an application-level error reported by the runtime
// after it executed the module
type RuntimeError struct {
	Message string
	Stack   string
}

func (e *RuntimeError) Error() string {
	return e.Message
}

// DecodeError indicates the runtime answered with a payload shape other than
// the one the caller requested
type DecodeError struct {
	Message string
}

func (e *DecodeError) Error() string {
	return e.Message
}

// IsValidationError returns whether the invocation failed argument validation
func IsValidationError(err error) bool {
	_, ok := errors.RootCause(err).(*ValidationError)
	return ok
}

// IsConnectivityError returns whether the invocation exhausted the retry
// policy without reaching a live runtime process
func IsConnectivityError(err error) bool {
	_, ok := errors.RootCause(err).(*ConnectivityError)
	return ok
}

// IsTimeout returns whether the invocation deadline elapsed
func IsTimeout(err error) bool {
	_, ok := errors.RootCause(err).(*TimeoutError)
	return ok
}

// IsRuntimeError returns whether the runtime reported an application error
func IsRuntimeError(err error) bool {
	_, ok := errors.RootCause(err).(*RuntimeError)
	return ok
}

// IsDecodeError returns whether the response could not be decoded as the
// requested type
func IsDecodeError(err error) bool {
	_, ok := errors.RootCause(err).(*DecodeError)
	return ok
}

// IsDisposed returns whether the failure was caused by engine disposal
func IsDisposed(err error) bool {
	rootCause := errors.RootCause(err)
	return rootCause == ErrDisposed || rootCause == supervisor.ErrDisposed
}

// IsCancelled returns whether the caller's cancellation signal fired before
// completion
func IsCancelled(err error) bool {
	return errors.RootCause(err) == context.Canceled
}
