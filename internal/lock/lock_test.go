package lock

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire_CreatesStateDirAndRecordsHolder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")

	l, err := Acquire(dir)
	require.NoError(t, err)
	defer func() { _ = l.Release() }()

	assert.Equal(t, filepath.Join(dir, FileName), l.Path())

	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), strings.TrimSpace(string(data)))
}

func TestAcquire_ContendedFailsFast(t *testing.T) {
	dir := t.TempDir()

	first, err := Acquire(dir)
	require.NoError(t, err)
	defer func() { _ = first.Release() }()

	second, err := Acquire(dir)
	require.Error(t, err)
	assert.Nil(t, second)
	assert.ErrorIs(t, err, ErrLocked)

	var held *HeldError
	require.True(t, errors.As(err, &held))
	assert.Equal(t, os.Getpid(), held.PID)
	assert.Contains(t, err.Error(), "held by pid")
}

func TestRelease_AllowsReacquire(t *testing.T) {
	dir := t.TempDir()

	first, err := Acquire(dir)
	require.NoError(t, err)
	require.NoError(t, first.Release())
	require.NoError(t, first.Release(), "second release is a no-op")

	second, err := Acquire(dir)
	require.NoError(t, err)
	require.NoError(t, second.Release())
}

func TestHeldError_UnknownHolder(t *testing.T) {
	err := &HeldError{Path: "/tmp/x/parsecup.lock"}
	assert.Equal(t, "/tmp/x/parsecup.lock held by another process", err.Error())
	assert.ErrorIs(t, err, ErrLocked)
}

func TestReadHolder(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
		want    int
	}{
		{name: "pid", content: "4242\n", want: 4242},
		{name: "empty", content: "", want: 0},
		{name: "garbage", content: "nope", want: 0},
		{name: "negative", content: "-3", want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))
			assert.Equal(t, tt.want, readHolder(path))
		})
	}
	assert.Equal(t, 0, readHolder(filepath.Join(dir, "missing")))
}
