package dockerlog

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jared-cannon/homelab-launchpad/internal/models"
)

const readChunkSize = 32 * 1024

// ReadAll drains r and decodes everything it carried. Used for bounded fetches.
// When multiplexed is false the content is treated as plain newline-delimited text.
func ReadAll(r io.Reader, multiplexed bool, now Clock) ([]models.LogEntry, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read logs: %w", err)
	}
	if !multiplexed {
		return ParseText(string(data), models.LogStreamStdout, now), nil
	}
	return Decode(data, now), nil
}

// Follow reads r until it ends or ctx is cancelled, calling fn for every entry in
// order. Frames split across reads are reassembled.
func Follow(ctx context.Context, r io.Reader, multiplexed bool, now Clock, fn func(models.LogEntry) error) error {
	dec := NewDecoder(now)
	var partialLine string
	buf := make([]byte, readChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		if n > 0 {
			var entries []models.LogEntry
			var derr error
			if multiplexed {
				entries, derr = dec.Write(buf[:n])
			} else {
				text := partialLine + string(buf[:n])
				cut := lastNewline(text)
				partialLine = text[cut:]
				entries = ParseText(text[:cut], models.LogStreamStdout, now)
			}
			for _, e := range entries {
				if ferr := fn(e); ferr != nil {
					return ferr
				}
			}
			if derr != nil {
				return fmt.Errorf("read logs: %w", derr)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if !multiplexed && partialLine != "" {
					for _, e := range ParseText(partialLine, models.LogStreamStdout, now) {
						if ferr := fn(e); ferr != nil {
							return ferr
						}
					}
				}
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read logs: %w", err)
		}
	}
}

func lastNewline(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '\n' {
			return i + 1
		}
	}
	return 0
}
