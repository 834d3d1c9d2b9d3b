package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteFixture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixture.txt")
	size := int64(len(line)*3 + 10)

	n, err := writeFixture(path, size)
	require.NoError(t, err)
	require.Equal(t, size, n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, data, int(size))
	require.True(t, strings.HasPrefix(string(data), strings.Repeat(line, 3)))
}

func TestAppWritesRequestedSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.txt")
	var out bytes.Buffer

	app := newApp()
	app.Writer = &out
	require.NoError(t, app.Run([]string{"fixtures", "--out", path, "--size-mb", "1"}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, int64(1024*1024), info.Size())
	require.Contains(t, out.String(), "wrote "+path)
}

func TestAppRejectsNegativeSize(t *testing.T) {
	app := newApp()
	app.Writer = &bytes.Buffer{}
	app.ErrWriter = &bytes.Buffer{}
	require.Error(t, app.Run([]string{"fixtures", "--out", filepath.Join(t.TempDir(), "x"), "--size-mb=-1"}))
}
