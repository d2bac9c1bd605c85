package process

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sh(script string) Command {
	return Command{Name: "sh", Args: []string{"-c", script}}
}

func TestExecRunner_Run(t *testing.T) {
	r := NewExecRunner()

	res, err := r.Run(context.Background(), sh("echo hello; echo oops 1>&2"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Output, "hello")
	assert.Contains(t, res.Output, "oops")
}

func TestExecRunner_RunNonZeroExit(t *testing.T) {
	r := NewExecRunner()

	res, err := r.Run(context.Background(), sh("echo failing; exit 3"))
	require.Error(t, err)

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.ExitCode)
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, res.Output, "failing")
}

func TestExecRunner_RunTimeout(t *testing.T) {
	r := NewExecRunner()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := r.Run(ctx, sh("sleep 5"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecRunner_RunMissingBinary(t *testing.T) {
	r := NewExecRunner()

	_, err := r.Run(context.Background(), Command{Name: "definitely-not-a-real-binary-xyz"})
	require.Error(t, err)
	var exitErr *ExitError
	assert.False(t, errors.As(err, &exitErr))
}

func TestExecRunner_Stream(t *testing.T) {
	r := NewExecRunner()

	var stdout, stderr []string
	code, err := r.Stream(context.Background(), sh("echo one; echo two; echo warn 1>&2; exit 2"), func(stream, line string) {
		if stream == Stdout {
			stdout = append(stdout, line)
		} else {
			stderr = append(stderr, line)
		}
	})
	require.NoError(t, err)
	assert.Equal(t, 2, code)
	assert.Equal(t, []string{"one", "two"}, stdout)
	assert.Equal(t, []string{"warn"}, stderr)
}

func TestExecRunner_StreamDir(t *testing.T) {
	r := NewExecRunner()
	dir := t.TempDir()

	var lines []string
	cmd := sh("pwd")
	cmd.Dir = dir
	code, err := r.Stream(context.Background(), cmd, func(_, line string) { lines = append(lines, line) })
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], dir)
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "docker compose up -d", Command{Name: "docker", Args: []string{"compose", "up", "-d"}}.String())
}

func collectLines(input string) []string {
	var lines []string
	var wg sync.WaitGroup
	wg.Add(1)
	scanLines(&wg, strings.NewReader(input), Stdout, func(stream, line string) {
		lines = append(lines, line)
	})
	wg.Wait()
	return lines
}

func TestScanLines_LongLinesAreSplit(t *testing.T) {
	long := strings.Repeat("a", 2*1024*1024+10)
	lines := collectLines("first\n" + long + "\nlast\n")

	require.GreaterOrEqual(t, len(lines), 4)
	assert.Equal(t, "first", lines[0])
	assert.Equal(t, "last", lines[len(lines)-1])

	pieces := lines[1 : len(lines)-1]
	assert.Equal(t, long, strings.Join(pieces, ""))
	for _, p := range pieces {
		assert.LessOrEqual(t, len(p), MaxLineSize)
	}
}

func TestScanLines_Edges(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"empty", "", nil},
		{"no trailing newline", "a\nb", []string{"a", "b"}},
		{"blank lines kept", "a\n\nb\n", []string{"a", "", "b"}},
		{"crlf", "a\r\nb\r\n", []string{"a", "b"}},
		{"exactly buffer sized line", strings.Repeat("x", MaxLineSize) + "\nend\n", []string{strings.Repeat("x", MaxLineSize), "end"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, collectLines(tt.input))
		})
	}
}
