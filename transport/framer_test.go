package transport

import (
	"bytes"
	"io"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/fixengine/enum"
	"github.com/wyfcoding/fixengine/message"
	"github.com/wyfcoding/fixengine/tag"
)

func heartbeat(seq int) []byte {
	m := message.New(enum.MsgTypeHeartbeat)
	m.Header.Set(tag.BeginString, "FIX.4.4")
	m.Header.Set(tag.SenderCompID, "A")
	m.Header.Set(tag.TargetCompID, "B")
	m.Header.SetInt(tag.MsgSeqNum, seq)
	return message.Build(m)
}

func TestFramerSplitsStream(t *testing.T) {
	a, b := heartbeat(1), heartbeat(2)
	stream := append(append([]byte("noise\x01"), a...), b...)
	f := NewFramer(bytes.NewReader(stream), 0)

	got, err := f.Next()
	require.NoError(t, err)
	assert.Equal(t, a, got)
	got, err = f.Next()
	require.NoError(t, err)
	assert.Equal(t, b, got)

	_, err = f.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestFramerIgnoresEmbeddedBeginString(t *testing.T) {
	// "18=" 不是报文开头
	a := heartbeat(1)
	stream := append([]byte("xx18=1\x01"), a...)
	f := NewFramer(bytes.NewReader(stream), 0)
	got, err := f.Next()
	require.NoError(t, err)
	assert.Equal(t, a, got)
}

func TestFramerRecoversFromGarbledFrame(t *testing.T) {
	a := heartbeat(3)
	stream := append([]byte("8=FIX.4.4\x0135=0\x01"), a...)
	f := NewFramer(bytes.NewReader(stream), 0)

	_, err := f.Next()
	assert.ErrorIs(t, err, ErrGarbled)
	got, err := f.Next()
	require.NoError(t, err)
	assert.Equal(t, a, got)
}

func TestFramerRejectsOversizedMessage(t *testing.T) {
	f := NewFramer(bytes.NewReader(heartbeat(1)), 32)
	_, err := f.Next()
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestFramerTruncatedStream(t *testing.T) {
	a := heartbeat(1)
	f := NewFramer(bytes.NewReader(a[:len(a)-3]), 0)
	_, err := f.Next()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestFramerOneByteReads(t *testing.T) {
	a, b := heartbeat(1), heartbeat(2)
	stream := append(append(append([]byte("8"), 0x01), a...), b...)
	f := NewFramer(iotest.OneByteReader(bytes.NewReader(stream)), 0)

	for _, want := range [][]byte{a, b} {
		got, err := f.Next()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := f.Next()
	assert.ErrorIs(t, err, io.EOF)
}
