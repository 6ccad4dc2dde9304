package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunCapturesStdoutAndCode(t *testing.T) {
	res, err := Run(context.Background(), []string{"sh", "-c", "echo hi"}, Options{
		Timeout:   time.Second,
		MaxStdout: 1024,
		MaxStderr: 1024,
	})
	require.NoError(t, err)
	require.Equal(t, 0, res.Code)
	require.Equal(t, "hi\n", string(res.Stdout))
}

func TestRunUnexpectedCode(t *testing.T) {
	expected := 0
	_, err := Run(context.Background(), []string{"sh", "-c", "exit 3"}, Options{
		Timeout:      time.Second,
		ExpectedCode: &expected,
		MaxStdout:    1024,
		MaxStderr:    1024,
	})
	require.Error(t, err)
	var uce *UnexpectedCodeError
	require.True(t, errors.As(err, &uce))
	require.Equal(t, 3, uce.Got)
}

func TestRunTimeout(t *testing.T) {
	_, err := Run(context.Background(), []string{"sh", "-c", "sleep 5"}, Options{
		Timeout:   50 * time.Millisecond,
		MaxStdout: 1024,
		MaxStderr: 1024,
	})
	require.Error(t, err)
	var te *TimeoutError
	require.True(t, errors.As(err, &te))
}

func TestRunOutputLimitExceeded(t *testing.T) {
	_, err := Run(context.Background(), []string{"sh", "-c", "yes | head -c 1000000"}, Options{
		Timeout:   5 * time.Second,
		MaxStdout: 100,
		MaxStderr: 100,
	})
	require.Error(t, err)
	var ole *OutputLimitError
	require.True(t, errors.As(err, &ole))
	require.Equal(t, "stdout", ole.Stream)
	require.Equal(t, 100, ole.Cap)
}

func TestRunStdinIsDeliveredThroughTempFile(t *testing.T) {
	res, err := Run(context.Background(), []string{"cat"}, Options{
		Timeout:   time.Second,
		Stdin:     []byte("from stdin\n"),
		MaxStdout: 1024,
		MaxStderr: 1024,
	})
	require.NoError(t, err)
	require.Equal(t, "from stdin\n", string(res.Stdout))
}

func TestRunUsesConfiguredWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	res, err := Run(context.Background(), []string{"pwd"}, Options{
		Timeout:   time.Second,
		Dir:       dir,
		MaxStdout: 1024,
	})
	require.NoError(t, err)
	require.Contains(t, string(res.Stdout), dir)
}

func TestRunUncapturedStreamIsNotCollected(t *testing.T) {
	res, err := Run(context.Background(), []string{"sh", "-c", "echo hi; echo err 1>&2"}, Options{
		Timeout:   time.Second,
		MaxStdout: 1024,
	})
	require.NoError(t, err)
	require.Equal(t, "hi\n", string(res.Stdout))
	require.Nil(t, res.Stderr)
}
