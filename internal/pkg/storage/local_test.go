package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir(), "http://localhost:8080/files/")
	require.NoError(t, err)

	require.NoError(t, s.Save(ctx, "certificates/CC-1.pdf", strings.NewReader("%PDF"), "application/pdf"))

	rc, err := s.Get(ctx, "certificates/CC-1.pdf")
	require.NoError(t, err)
	body, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "%PDF", string(body))
	assert.Equal(t, "http://localhost:8080/files/certificates/CC-1.pdf", s.GetURL("certificates/CC-1.pdf"))

	require.NoError(t, s.Delete(ctx, "certificates/CC-1.pdf"))
	require.NoError(t, s.Delete(ctx, "certificates/CC-1.pdf"))

	_, err = s.Get(ctx, "certificates/CC-1.pdf")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStorageKeysStayInsideBase(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStorage(dir, "")
	require.NoError(t, err)

	p, err := s.path("../../etc/passwd")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(p, dir))
}
