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

package protocol

import (
	"io"
)

// ModuleKind discriminates how the runtime should resolve the module body
type ModuleKind string

const (
	// ModuleKindSource carries the module body inline
	ModuleKindSource ModuleKind = "source"

	// ModuleKindPath references a module file on the runtime's filesystem
	ModuleKindPath ModuleKind = "path"

	// ModuleKindCacheOnly carries only a cache identifier; the runtime answers
	// not_found when nothing is compiled under it
	ModuleKindCacheOnly ModuleKind = "cacheOnly"
)

// ModuleRef is the module part of an invocation request. For ModuleKindSource
// an optional CacheID asks the runtime to compile-and-store (idempotent when
// already cached). For ModuleKindCacheOnly only CacheID is set.
type ModuleRef struct {
	Kind    ModuleKind `json:"kind" msgpack:"kind"`
	Source  string     `json:"source,omitempty" msgpack:"source,omitempty"`
	Path    string     `json:"path,omitempty" msgpack:"path,omitempty"`
	CacheID string     `json:"cache_id,omitempty" msgpack:"cache_id,omitempty"`
}

// Request is one invocation sent to the runtime process. Args are already
// JSON-serializable values; an empty Export means the module itself is callable.
type Request struct {
	ID     string        `json:"id" msgpack:"id"`
	Module ModuleRef     `json:"module" msgpack:"module"`
	Export string        `json:"export,omitempty" msgpack:"export,omitempty"`
	Args   []interface{} `json:"args" msgpack:"args"`
}

// Response status values
type Status string

const (
	StatusOK       Status = "ok"
	StatusError    Status = "error"
	StatusNotFound Status = "not_found"
)

// Body encodings a result frame may carry
const (
	BodyEncodingJSON   = "json"
	BodyEncodingText   = "text"
	BodyEncodingBase64 = "base64"
	BodyEncodingStream = "stream"
)

// ErrorDetail carries a runtime-reported application error
type ErrorDetail struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// Response is one answer read off the wire, correlated by ID. DecodedBody and
// Stream are populated by the connection layer, not unmarshalled.
type Response struct {
	ID           string       `json:"id"`
	Status       Status       `json:"status"`
	Body         string       `json:"body,omitempty"`
	BodyEncoding string       `json:"body_encoding,omitempty"`
	Error        *ErrorDetail `json:"error,omitempty"`

	DecodedBody []byte        `json:"-"`
	Stream      io.ReadCloser `json:"-"`
}

// StreamChunk is one piece of a streamed response body, base64 encoded
type StreamChunk struct {
	ID    string `json:"id"`
	Chunk string `json:"chunk"`
}

// StreamEnd terminates a streamed response body
type StreamEnd struct {
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

// LogRecord is a log entry emitted by the runtime process on behalf of an
// executing module
type LogRecord struct {
	DateTime string                 `json:"datetime"`
	Level    string                 `json:"level"`
	Message  string                 `json:"message"`
	With     map[string]interface{} `json:"with"`
}

// Frame tag bytes prefixing every runtime-to-host line
const (
	FrameTagStart       = 's'
	FrameTagResult      = 'r'
	FrameTagLog         = 'l'
	FrameTagStreamChunk = 'c'
	FrameTagStreamEnd   = 'z'
)
