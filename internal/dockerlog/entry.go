package dockerlog

import (
	"regexp"
	"strings"
	"time"

	"github.com/jared-cannon/homelab-launchpad/internal/models"
)

// isoMillis matches the format used when a line carries no timestamp
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

var timestampPrefix = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?Z?)\s+(.*)$`)

// Clock returns the time substituted for lines without a timestamp
type Clock func() time.Time

func defaultClock() time.Time { return time.Now() }

// ParseLine splits an optional leading ISO-8601 timestamp from the message.
// Without one, now is used.
func ParseLine(line string, stream models.LogStream, now Clock) models.LogEntry {
	if now == nil {
		now = defaultClock
	}
	line = strings.TrimRight(line, "\r")
	if m := timestampPrefix.FindStringSubmatch(line); m != nil {
		return models.LogEntry{Timestamp: m[1], Message: m[2], Stream: stream}
	}
	return models.LogEntry{
		Timestamp: now().UTC().Format(isoMillis),
		Message:   line,
		Stream:    stream,
	}
}

// ParseText splits text into one entry per non-empty line
func ParseText(text string, stream models.LogStream, now Clock) []models.LogEntry {
	var entries []models.LogEntry
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		entries = append(entries, ParseLine(line, stream, now))
	}
	return entries
}

// EntriesFromFrames converts frames into entries in frame order
func EntriesFromFrames(frames []Frame, now Clock) []models.LogEntry {
	var entries []models.LogEntry
	for _, f := range frames {
		entries = append(entries, ParseText(string(f.Payload), f.Stream.LogStream(), now)...)
	}
	return entries
}

// Decode converts a complete multiplexed buffer to entries. Trailing partial frames are ignored.
func Decode(buf []byte, now Clock) []models.LogEntry {
	frames, _ := DecodeFrames(buf)
	return EntriesFromFrames(frames, now)
}

// Decoder turns a chunked multiplexed stream into entries
type Decoder struct {
	frames FrameDecoder
	now    Clock
}

// NewDecoder creates a streaming decoder. now may be nil.
func NewDecoder(now Clock) *Decoder {
	if now == nil {
		now = defaultClock
	}
	return &Decoder{now: now}
}

// Write feeds one chunk and returns the entries completed by it. The error is
// ErrFrameTooLarge when the stream turned out to be corrupt.
func (d *Decoder) Write(chunk []byte) ([]models.LogEntry, error) {
	frames, err := d.frames.Write(chunk)
	return EntriesFromFrames(frames, d.now), err
}

// Buffered returns the number of bytes of an incomplete trailing frame
func (d *Decoder) Buffered() int {
	return d.frames.Buffered()
}
