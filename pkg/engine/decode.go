package engine

import (
	"encoding/json"
	"io"

	"github.com/nodebridge/nodebridge/pkg/protocol"
)

// decodeResponse maps the response payload to the statically requested target:
// *string bypasses JSON and gets the raw payload, *io.ReadCloser receives the
// open stream, any other non-nil target is unmarshalled from JSON. A shape
// mismatch is a decode failure, never a silent coercion.
func decodeResponse(response *protocol.Response, target interface{}) error {
	if target == nil {
		if response.Stream != nil {

			// nobody will consume it; release the chunks
			response.Stream.Close() // nolint: errcheck
		}
		return nil
	}

	switch typedTarget := target.(type) {
	case *string:
		if response.Stream != nil {
			return &DecodeError{Message: "Runtime returned a stream but a string was requested"}
		}
		*typedTarget = string(response.DecodedBody)
		return nil

	case *io.ReadCloser:
		if response.Stream == nil {
			return &DecodeError{Message: "Runtime returned a value but a stream was requested"}
		}
		*typedTarget = response.Stream
		return nil

	default:
		if response.Stream != nil {
			return &DecodeError{Message: "Runtime returned a stream but a JSON value was requested"}
		}
		if len(response.DecodedBody) == 0 {
			return nil
		}
		if err := json.Unmarshal(response.DecodedBody, target); err != nil {
			return &DecodeError{Message: "Failed to decode result as requested type: " + err.Error()}
		}
		return nil
	}
}
