package codec

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleFrame struct {
	Op   string `cbor:"op"`
	Path string `cbor:"path"`
	OK   bool   `cbor:"ok"`
}

func TestMarshal_Deterministic(t *testing.T) {
	frame := sampleFrame{Op: "transaction", Path: "t.db", OK: true}

	first, err := Marshal(frame)
	require.NoError(t, err)
	second, err := Marshal(frame)
	require.NoError(t, err)

	assert.Equal(t, first, second)

	var decoded sampleFrame
	require.NoError(t, NewDecoder(bytes.NewReader(first)).Decode(&decoded))
	assert.Equal(t, frame, decoded)
}

func TestStream_ReadsOneItemPerDecode(t *testing.T) {
	var buf bytes.Buffer
	for _, f := range []sampleFrame{{Op: "a", Path: "1.db"}, {Op: "b", Path: "2.db", OK: true}} {
		data, err := Marshal(f)
		require.NoError(t, err)
		buf.Write(data)
	}

	dec := NewDecoder(&buf)

	var first, second sampleFrame
	require.NoError(t, dec.Decode(&first))
	require.NoError(t, dec.Decode(&second))
	assert.Equal(t, "1.db", first.Path)
	assert.Equal(t, "2.db", second.Path)
	assert.True(t, second.OK)

	var third sampleFrame
	assert.ErrorIs(t, dec.Decode(&third), io.EOF)
}

func TestDecode_RejectsGarbage(t *testing.T) {
	var decoded sampleFrame
	err := NewDecoder(bytes.NewReader([]byte{0xff, 0x00, 0x13})).Decode(&decoded)
	assert.Error(t, err)
}
