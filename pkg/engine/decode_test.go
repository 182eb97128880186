//go:build test_unit

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
	"io"
	"strings"
	"testing"

	"github.com/nodebridge/nodebridge/pkg/protocol"

	"github.com/stretchr/testify/suite"
)

type closeTrackingStream struct {
	io.Reader
	closed bool
}

func (cts *closeTrackingStream) Close() error {
	cts.closed = true
	return nil
}

type DecodeSuite struct {
	suite.Suite
}

func (suite *DecodeSuite) TestJSONTarget() {
	require := suite.Require()

	type point struct {
		X int `json:"x"`
		Y int `json:"y"`
	}

	var result point
	require.NoError(decodeResponse(&protocol.Response{
		DecodedBody: []byte(`{"x": 1, "y": 2}`),
	}, &result), "Can't decode")
	require.Equal(point{X: 1, Y: 2}, result, "bad decoded value")
}

func (suite *DecodeSuite) TestStringTargetBypassesJSON() {
	require := suite.Require()

	// the payload is not valid JSON on purpose, a string target takes it raw
	var result string
	require.NoError(decodeResponse(&protocol.Response{
		DecodedBody: []byte("not: json"),
	}, &result), "Can't decode")
	require.Equal("not: json", result, "bad raw value")
}

func (suite *DecodeSuite) TestStreamTarget() {
	require := suite.Require()

	stream := &closeTrackingStream{Reader: strings.NewReader("payload")}

	var result io.ReadCloser
	require.NoError(decodeResponse(&protocol.Response{Stream: stream}, &result), "Can't decode")

	streamedBody, err := io.ReadAll(result)
	require.NoError(err, "Can't read stream")
	require.Equal("payload", string(streamedBody), "bad stream contents")
}

func (suite *DecodeSuite) TestNilTargetDiscardsAndReleasesStream() {
	require := suite.Require()

	require.NoError(decodeResponse(&protocol.Response{
		DecodedBody: []byte(`{"ignored": true}`),
	}, nil), "nil target failed on a value")

	stream := &closeTrackingStream{Reader: strings.NewReader("payload")}
	require.NoError(decodeResponse(&protocol.Response{Stream: stream}, nil), "nil target failed on a stream")
	require.True(stream.closed, "unconsumed stream not released")
}

func (suite *DecodeSuite) TestEmptyBody() {
	require := suite.Require()

	result := 42
	require.NoError(decodeResponse(&protocol.Response{}, &result), "empty body failed")
	require.Equal(42, result, "empty body clobbered the target")
}

func (suite *DecodeSuite) TestShapeMismatches() {
	require := suite.Require()

	stream := &closeTrackingStream{Reader: strings.NewReader("payload")}

	var stringResult string
	err := decodeResponse(&protocol.Response{Stream: stream}, &stringResult)
	require.Error(err, "stream into string accepted")
	require.True(IsDecodeError(err), "wrong error classification")

	var streamResult io.ReadCloser
	err = decodeResponse(&protocol.Response{DecodedBody: []byte(`"value"`)}, &streamResult)
	require.Error(err, "value into stream accepted")
	require.True(IsDecodeError(err), "wrong error classification")

	var intResult int
	err = decodeResponse(&protocol.Response{DecodedBody: []byte(`"not a number"`)}, &intResult)
	require.Error(err, "type mismatch accepted")
	require.True(IsDecodeError(err), "wrong error classification")
}

func TestDecode(t *testing.T) {
	suite.Run(t, new(DecodeSuite))
}
