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
	"bytes"
	"encoding/binary"
	"io"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	"github.com/vmihailenco/msgpack/v4"
)

// RequestMsgPackEncoder encodes requests as MsgPack, each message prefixed
// with its length as a big endian int32. Only useful against a runtime harness
// that was started with the msgpack codec.
type RequestMsgPackEncoder struct {
	logger  logger.Logger
	writer  io.Writer
	buf     bytes.Buffer
	encoder *msgpack.Encoder
}

// NewRequestMsgPackEncoder returns a new MsgPack request encoder
func NewRequestMsgPackEncoder(parentLogger logger.Logger, writer io.Writer) *RequestMsgPackEncoder {
	requestMsgPackEncoder := RequestMsgPackEncoder{
		logger: parentLogger.GetChild("msgpackEncoder"),
		writer: writer,
	}
	requestMsgPackEncoder.encoder = msgpack.NewEncoder(&requestMsgPackEncoder.buf)
	return &requestMsgPackEncoder
}

// Encode writes the MsgPack encoding of the request, prefixed by its size
func (me *RequestMsgPackEncoder) Encode(request *Request) error {
	me.buf.Reset()
	if err := me.encoder.Encode(request); err != nil {
		return errors.Wrap(err, "Failed to encode request")
	}

	if err := binary.Write(me.writer, binary.BigEndian, int32(me.buf.Len())); err != nil {
		return errors.Wrap(err, "Failed to write request size to socket")
	}

	if _, err := me.writer.Write(me.buf.Bytes()); err != nil {
		return errors.Wrap(err, "Failed to write request to socket")
	}

	return nil
}
