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
	"encoding/json"
	"io"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
)

// RequestEncoder writes invocation requests to the runtime process
type RequestEncoder interface {

	// Encode writes a single framed request
	Encode(request *Request) error
}

// RequestJSONEncoder encodes requests as newline-delimited JSON
type RequestJSONEncoder struct {
	logger logger.Logger
	writer io.Writer
}

// NewRequestJSONEncoder returns a new JSON request encoder
func NewRequestJSONEncoder(parentLogger logger.Logger, writer io.Writer) *RequestJSONEncoder {
	return &RequestJSONEncoder{
		logger: parentLogger.GetChild("jsonEncoder"),
		writer: writer,
	}
}

// Encode writes the JSON encoding of the request, followed by a newline character
func (je *RequestJSONEncoder) Encode(request *Request) error {
	je.logger.DebugWith("Sending request to runtime",
		"requestID", request.ID,
		"moduleKind", request.Module.Kind,
		"sourceSize", len(request.Module.Source))

	if err := json.NewEncoder(je.writer).Encode(request); err != nil {
		return errors.Wrap(err, "Failed to encode request")
	}

	return nil
}
