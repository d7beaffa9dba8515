package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateID(t *testing.T) {
	a, b := GenerateID(), GenerateID()
	assert.Len(t, a, 24)
	assert.NotEqual(t, a, b)

	ts, err := TimeFromID(a)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), ts, 2*time.Second)

	_, err = TimeFromID("abc")
	assert.Error(t, err)
}

func TestMimeFromExt(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n0000")

	assert.Equal(t, "image/png", MimeFromExt("png", nil))
	assert.Equal(t, "image/png", MimeFromExt(".PNG", nil))
	assert.Equal(t, "image/png", MimeFromExt("", png))
	assert.Equal(t, "text/plain", MimeFromExt("", []byte("hello")))
	assert.True(t, IsImage(MimeFromExt("jpg", nil)))
	assert.False(t, IsImage("application/pdf"))
}

func TestDetectMimeAndExt(t *testing.T) {
	mt, ext := DetectMimeAndExt([]byte("\x89PNG\r\n\x1a\n0000"))
	assert.Equal(t, "image/png", mt)
	assert.Equal(t, ".png", ext)

	mt, _ = DetectMimeAndExt(nil)
	assert.Equal(t, "application/octet-stream", mt)
}
