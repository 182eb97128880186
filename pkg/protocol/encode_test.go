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

package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"testing"

	nucliozap "github.com/nuclio/zap"
	"github.com/stretchr/testify/suite"
	"github.com/vmihailenco/msgpack/v4"
)

type EncodeSuite struct {
	suite.Suite
}

func (suite *EncodeSuite) TestJSONEncodeFraming() {
	require := suite.Require()
	loggerInstance, err := nucliozap.NewNuclioZapTest("encode-test")
	require.NoError(err, "Can't create logger")

	var buf bytes.Buffer
	encoder := NewRequestJSONEncoder(loggerInstance, &buf)

	err = encoder.Encode(&Request{
		ID: "req-1",
		Module: ModuleRef{
			Kind:    ModuleKindSource,
			Source:  "module.exports = (cb) => cb(null, 1);",
			CacheID: "one",
		},
		Export: "default",
		Args:   []interface{}{1, "two"},
	})
	require.NoError(err, "Can't encode request")

	// a single line terminated by a newline
	encoded := buf.Bytes()
	require.Equal(byte('\n'), encoded[len(encoded)-1], "missing newline terminator")
	require.Equal(1, bytes.Count(encoded, []byte{'\n'}), "more than one line")

	decoded := Request{}
	require.NoError(json.Unmarshal(encoded, &decoded), "Can't decode request")
	require.Equal("req-1", decoded.ID, "bad id")
	require.Equal(ModuleKindSource, decoded.Module.Kind, "bad module kind")
	require.Equal("one", decoded.Module.CacheID, "bad cache id")
	require.Equal("default", decoded.Export, "bad export")
	require.Len(decoded.Args, 2, "bad args")
}

func (suite *EncodeSuite) TestMsgPackEncodeFraming() {
	require := suite.Require()
	loggerInstance, err := nucliozap.NewNuclioZapTest("encode-test")
	require.NoError(err, "Can't create logger")

	var buf bytes.Buffer
	encoder := NewRequestMsgPackEncoder(loggerInstance, &buf)

	err = encoder.Encode(&Request{
		ID:     "req-2",
		Module: ModuleRef{Kind: ModuleKindCacheOnly, CacheID: "two"},
		Args:   []interface{}{},
	})
	require.NoError(err, "Can't encode request")

	// big endian int32 size prefix, then exactly that many bytes
	var size int32
	require.NoError(binary.Read(&buf, binary.BigEndian, &size), "Can't read size prefix")
	require.Equal(int(size), buf.Len(), "size prefix doesn't match payload")

	decoded := Request{}
	require.NoError(msgpack.Unmarshal(buf.Bytes(), &decoded), "Can't decode request")
	require.Equal("req-2", decoded.ID, "bad id")
	require.Equal(ModuleKindCacheOnly, decoded.Module.Kind, "bad module kind")
}

func TestEncode(t *testing.T) {
	suite.Run(t, new(EncodeSuite))
}
