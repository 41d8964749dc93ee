package storage

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

func TestValidKey(t *testing.T) {
	ok := []string{"media/2026/10/a.png", "a", "x-y_z.gif"}
	bad := []string{"", "/etc/passwd", "../x", "media/../x", "media//x", "media/./x", ".hidden", `a\b`, "media/"}
	for _, k := range ok {
		assert.True(t, ValidKey(k), k)
	}
	for _, k := range bad {
		assert.False(t, ValidKey(k), k)
	}
}

func TestFSStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "media/a/b.txt", strings.NewReader("hello")))
	rc, err := s.Get(ctx, "media/a/b.txt")
	require.NoError(t, err)
	body, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "hello", string(body))

	require.NoError(t, s.Delete(ctx, "media/a/b.txt"))
	_, err = s.Get(ctx, "media/a/b.txt")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "media/a/b.txt"), ErrNotFound)
}

func TestFSStoreRejectsTraversal(t *testing.T) {
	ctx := context.Background()
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	assert.Error(t, s.Put(ctx, "../escape", strings.NewReader("x")))
	_, err = s.Get(ctx, "../../etc/passwd")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMediaSave(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	m := NewMedia(fs)
	m.now = func() time.Time { return time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC) }

	up, err := m.Save(ctx, bytes.NewReader(pngHeader))
	require.NoError(t, err)
	assert.Equal(t, "image/png", up.ContentType)
	assert.True(t, strings.HasPrefix(up.Key, "media/2026/03/"), up.Key)
	assert.True(t, strings.HasSuffix(up.Key, ".png"), up.Key)
	assert.Equal(t, "/media/"+up.Key, up.URL)
	assert.True(t, ValidKey(up.Key))

	rc, ct, err := m.Open(ctx, up.Key)
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, "image/png", ct)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, pngHeader, body)
}

func TestMediaRejects(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	m := NewMedia(fs)

	_, err = m.Save(ctx, strings.NewReader("just some text"))
	assert.ErrorIs(t, err, ErrUnsupported)

	m.maxSize = 16
	_, err = m.Save(ctx, bytes.NewReader(append(pngHeader, make([]byte, 64)...)))
	assert.ErrorIs(t, err, ErrTooLarge)

	_, _, err = m.Open(ctx, "../secret")
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = m.Open(ctx, "media/2026/01/missing.png")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMediaDeleteAndBaseURL(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	m := NewMedia(fs, WithBaseURL("https://psy.example/"))

	up, err := m.Save(ctx, bytes.NewReader(pngHeader))
	require.NoError(t, err)
	assert.Equal(t, "https://psy.example/media/"+up.Key, up.URL)

	assert.ErrorIs(t, m.Delete(ctx, "other/file.png"), ErrNotFound)
	assert.ErrorIs(t, m.Delete(ctx, "media/../x.png"), ErrNotFound)
	require.NoError(t, m.Delete(ctx, up.Key))
	_, _, err = m.Open(ctx, up.Key)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Delete(ctx, up.Key), ErrNotFound)
}
