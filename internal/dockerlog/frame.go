// Package dockerlog decodes the container engine's multiplexed log stream.
//
// Each frame is an 8 byte header followed by the payload:
//
//	[stream, 0, 0, 0, size1, size2, size3, size4][payload...]
//
// stream is 1 for stdout and 2 for stderr; size is a big-endian uint32.
package dockerlog

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/jared-cannon/homelab-launchpad/internal/models"
)

// HeaderSize is the length of a frame header
const HeaderSize = 8

// MaxFrameSize bounds the payload a header may declare. A larger size means the
// stream is corrupt or not multiplexed at all.
const MaxFrameSize = 1 << 20

// ErrFrameTooLarge is returned by FrameDecoder for a header above MaxFrameSize
var ErrFrameTooLarge = errors.New("log frame exceeds maximum size")

// StreamType is the tag in byte 0 of a frame header
type StreamType byte

const (
	StreamStdin     StreamType = 0
	StreamStdout    StreamType = 1
	StreamStderr    StreamType = 2
	StreamSystemErr StreamType = 3
)

// LogStream maps the header tag to the stream an entry is reported on.
// Anything that is not an error channel is reported as stdout.
func (t StreamType) LogStream() models.LogStream {
	switch t {
	case StreamStderr, StreamSystemErr:
		return models.LogStreamStderr
	default:
		return models.LogStreamStdout
	}
}

// Frame is one decoded multiplexed message
type Frame struct {
	Stream  StreamType
	Payload []byte
}

// EncodeFrame returns header+payload for one frame
func EncodeFrame(stream StreamType, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = byte(stream)
	binary.BigEndian.PutUint32(buf[4:HeaderSize], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)
	return buf
}

// DecodeFrames walks buf and returns every complete frame and the number of bytes they
// occupy. A trailing incomplete frame is not consumed, and neither is anything from a
// header above MaxFrameSize onwards.
func DecodeFrames(buf []byte) ([]Frame, int) {
	var frames []Frame
	offset := 0
	for len(buf)-offset >= HeaderSize {
		size := frameSize(buf[offset:])
		if size > MaxFrameSize {
			break
		}
		end := offset + HeaderSize + size
		if end > len(buf) || end < offset {
			break
		}
		payload := make([]byte, size)
		copy(payload, buf[offset+HeaderSize:end])
		frames = append(frames, Frame{Stream: StreamType(buf[offset]), Payload: payload})
		offset = end
	}
	return frames, offset
}

// FrameDecoder accumulates chunks and yields complete frames. Bytes of a frame split
// across chunks are kept until the rest arrives.
type FrameDecoder struct {
	pending []byte
}

func frameSize(header []byte) int {
	return int(binary.BigEndian.Uint32(header[4:HeaderSize]))
}

// Write feeds one chunk and returns the frames it completed. When the next header
// declares more than MaxFrameSize the buffered bytes are dropped and ErrFrameTooLarge
// is returned along with the frames completed before it.
func (d *FrameDecoder) Write(chunk []byte) ([]Frame, error) {
	d.pending = append(d.pending, chunk...)
	frames, consumed := DecodeFrames(d.pending)
	if consumed > 0 {
		rest := len(d.pending) - consumed
		copy(d.pending, d.pending[consumed:])
		d.pending = d.pending[:rest]
	}
	if len(d.pending) >= HeaderSize {
		if size := frameSize(d.pending); size > MaxFrameSize {
			d.Reset()
			return frames, fmt.Errorf("%w: header declares %d bytes", ErrFrameTooLarge, size)
		}
	}
	return frames, nil
}

// Buffered returns the number of bytes waiting for the rest of a frame
func (d *FrameDecoder) Buffered() int {
	return len(d.pending)
}

// Reset drops any partial frame
func (d *FrameDecoder) Reset() {
	d.pending = d.pending[:0]
}
