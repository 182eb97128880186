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

package connection

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"net"
	"sync"

	"github.com/nodebridge/nodebridge/pkg/common"
	"github.com/nodebridge/nodebridge/pkg/protocol"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
)

// Codec selects the request encoding. Responses are always tagged JSON lines.
type Codec string

const (
	CodecJSON    Codec = "json"
	CodecMsgPack Codec = "msgpack"
)

var ErrStaleGeneration = errors.New("Connection generation is stale")
var ErrClosed = errors.New("Connection is closed")

// Conn is the duplex channel to one runtime process generation. It multiplexes
// concurrent invocations: requests are written serialized, responses are
// correlated back by request id and may arrive out of submission order.
// A Conn is bound to the generation it was created under and is never reused
// across respawns.
type Conn struct {
	logger     logger.Logger
	netConn    net.Conn
	encoder    protocol.RequestEncoder
	generation uint64

	encodeMu sync.Mutex

	mu       sync.Mutex
	pending  map[string]chan *protocol.Response
	streams  map[string]*Stream
	closed   bool
	closeErr error

	startCh   chan struct{}
	startOnce sync.Once
	closeCh   chan struct{}
}

// New returns a connection over the given net.Conn and starts its read loop
func New(parentLogger logger.Logger, netConn net.Conn, generation uint64, codec Codec) *Conn {
	conn := &Conn{
		logger:     parentLogger.GetChild("connection"),
		netConn:    netConn,
		generation: generation,
		pending:    map[string]chan *protocol.Response{},
		streams:    map[string]*Stream{},
		startCh:    make(chan struct{}),
		closeCh:    make(chan struct{}),
	}

	if codec == CodecMsgPack {
		conn.encoder = protocol.NewRequestMsgPackEncoder(conn.logger, netConn)
	} else {
		conn.encoder = protocol.NewRequestJSONEncoder(conn.logger, netConn)
	}

	go conn.readLoop()

	return conn
}

// Generation returns the runtime process generation this connection is bound to
func (c *Conn) Generation() uint64 {
	return c.generation
}

// WaitStart blocks until the runtime process announces readiness with a start
// frame, the connection dies, or the context is done
func (c *Conn) WaitStart(ctx context.Context) error {
	select {
	case <-c.startCh:
		return nil
	case <-c.closeCh:
		return c.closeError()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send writes a request and blocks until its correlated response arrives, the
// context is done, or the connection fails. A stale generation fails
// immediately so the caller can resubmit under the current one.
func (c *Conn) Send(ctx context.Context, request *protocol.Request, generation uint64) (*protocol.Response, error) {
	if generation != c.generation {
		return nil, ErrStaleGeneration
	}

	responseChan, err := c.registerPending(request.ID)
	if err != nil {
		return nil, err
	}

	c.encodeMu.Lock()
	err = c.encoder.Encode(request)
	c.encodeMu.Unlock()

	if err != nil {
		c.unregisterPending(request.ID)

		// a partial write leaves the channel unusable
		c.close(errors.Wrap(err, "Failed to write request"))
		return nil, errors.Wrap(err, "Failed to send request")
	}

	select {
	case response := <-responseChan:
		return response, nil
	case <-c.closeCh:
		return nil, c.closeError()
	case <-ctx.Done():

		// best effort abandon; the runtime may still complete the call
		c.unregisterPending(request.ID)
		return nil, ctx.Err()
	}
}

// Close severs the connection and fails every pending invocation
func (c *Conn) Close() {
	c.close(ErrClosed)
}

// CloseWithError severs the connection, failing pending invocations with the
// given error
func (c *Conn) CloseWithError(err error) {
	c.close(err)
}

func (c *Conn) registerPending(requestID string) (chan *protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, c.closeErr
	}

	// buffered so the read loop never blocks delivering to an abandoned call
	responseChan := make(chan *protocol.Response, 1)
	c.pending[requestID] = responseChan

	return responseChan, nil
}

func (c *Conn) unregisterPending(requestID string) {
	c.mu.Lock()
	delete(c.pending, requestID)
	c.mu.Unlock()
}

func (c *Conn) close(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = err
	c.pending = map[string]chan *protocol.Response{}

	streams := c.streams
	c.streams = map[string]*Stream{}
	c.mu.Unlock()

	close(c.closeCh)
	c.netConn.Close() // nolint: errcheck

	for _, stream := range streams {
		stream.finish(err)
	}
}

func (c *Conn) closeError() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closeErr
}

func (c *Conn) readLoop() {
	outReader := bufio.NewReader(c.netConn)

	for {
		data, err := outReader.ReadBytes('\n')
		if err != nil {
			c.close(errors.Wrap(err, "Failed to read from connection"))
			return
		}

		if len(data) < 2 {
			continue
		}

		switch data[0] {
		case protocol.FrameTagResult:
			c.handleResult(data[1:])
		case protocol.FrameTagStreamChunk:
			c.handleStreamChunk(data[1:])
		case protocol.FrameTagStreamEnd:
			c.handleStreamEnd(data[1:])
		case protocol.FrameTagLog:
			c.handleLog(data[1:])
		case protocol.FrameTagStart:
			c.startOnce.Do(func() { close(c.startCh) })
		default:
			c.logger.WarnWith("Ignoring frame with unknown tag", "tag", string(data[0]))
		}
	}
}

func (c *Conn) handleResult(data []byte) {
	response := &protocol.Response{}

	if err := json.Unmarshal(data, response); err != nil {
		c.logger.ErrorWith("Failed to decode result frame", "err", err)
		return
	}

	switch response.BodyEncoding {
	case protocol.BodyEncodingText, protocol.BodyEncodingJSON, "":
		response.DecodedBody = []byte(response.Body)
	case protocol.BodyEncodingBase64:
		decodedBody, err := base64.StdEncoding.DecodeString(response.Body)
		if err != nil {
			c.logger.ErrorWith("Failed to decode result body", "err", err)
			return
		}
		response.DecodedBody = decodedBody
	case protocol.BodyEncodingStream:
		stream := newStream()

		c.mu.Lock()
		if !c.closed {
			c.streams[response.ID] = stream
		}
		c.mu.Unlock()

		response.Stream = stream
	default:
		c.logger.ErrorWith("Unknown body encoding", "bodyEncoding", response.BodyEncoding)
		return
	}

	c.mu.Lock()
	responseChan := c.pending[response.ID]
	delete(c.pending, response.ID)
	c.mu.Unlock()

	if responseChan == nil {
		c.logger.DebugWith("Discarding response with no pending invocation",
			"requestID", response.ID)

		if response.Stream != nil {
			response.Stream.Close() // nolint: errcheck
		}
		return
	}

	responseChan <- response
}

func (c *Conn) handleStreamChunk(data []byte) {
	var chunk protocol.StreamChunk

	if err := json.Unmarshal(data, &chunk); err != nil {
		c.logger.ErrorWith("Failed to decode stream chunk", "err", err)
		return
	}

	decodedChunk, err := base64.StdEncoding.DecodeString(chunk.Chunk)
	if err != nil {
		c.logger.ErrorWith("Failed to decode stream chunk body", "err", err)
		return
	}

	c.mu.Lock()
	stream := c.streams[chunk.ID]
	c.mu.Unlock()

	if stream != nil {
		stream.feed(decodedChunk)
	}
}

func (c *Conn) handleStreamEnd(data []byte) {
	var streamEnd protocol.StreamEnd

	if err := json.Unmarshal(data, &streamEnd); err != nil {
		c.logger.ErrorWith("Failed to decode stream end", "err", err)
		return
	}

	c.mu.Lock()
	stream := c.streams[streamEnd.ID]
	delete(c.streams, streamEnd.ID)
	c.mu.Unlock()

	if stream == nil {
		return
	}

	if streamEnd.Error != "" {
		stream.finish(errors.New(streamEnd.Error))
	} else {
		stream.finish(nil)
	}
}

func (c *Conn) handleLog(data []byte) {
	var logRecord protocol.LogRecord

	if err := json.Unmarshal(data, &logRecord); err != nil {
		c.logger.ErrorWith("Failed to decode log frame", "err", err)
		return
	}

	logFunc := c.logger.DebugWith

	switch logRecord.Level {
	case "error", "critical", "fatal":
		logFunc = c.logger.ErrorWith
	case "warning":
		logFunc = c.logger.WarnWith
	case "info":
		logFunc = c.logger.InfoWith
	}

	vars := common.MapToSlice(logRecord.With)
	logFunc(logRecord.Message, vars...)
}
