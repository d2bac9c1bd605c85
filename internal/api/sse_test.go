package api

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) { return 0, errors.New("broken pipe") }

func TestSSEStream_Format(t *testing.T) {
	var buf bytes.Buffer
	stream := newSSEStream(bufio.NewWriter(&buf))

	require.NoError(t, stream.Send(sseLog, map[string]string{"message": "hello"}))
	assert.Equal(t, "event: log\ndata: {\"message\":\"hello\"}\n\n", buf.String())

	require.NoError(t, stream.Heartbeat())
	assert.Contains(t, buf.String(), "event: heartbeat\ndata: {\"timestamp\":")
}

func TestSSEStream_ClosedAfterWriteError(t *testing.T) {
	stream := newSSEStream(bufio.NewWriterSize(failingWriter{}, 16))

	err := stream.Send(sseLog, map[string]string{"message": "this payload overflows the buffer"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)

	assert.ErrorIs(t, stream.Send(sseLog, "again"), io.EOF)
	assert.ErrorIs(t, stream.Heartbeat(), io.EOF)
}
