package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignerRoundTrip(t *testing.T) {
	signer := NewSigner("secret", "https://cdn.example.com", "anthems")

	signed := signer.DownloadURL("anthem-2024-01-01", "anthem-2024-01-01.mp3", time.Hour)
	require.Contains(t, signed.URL, "anthem-2024-01-01.mp3")
	require.True(t, signer.Validate(signed.URL))
}

func TestSignerRejectsTampering(t *testing.T) {
	signer := NewSigner("secret", "https://cdn.example.com", "anthems")
	signed := signer.DownloadURL("anthem-2024-01-01", "a.mp3", time.Hour)

	tampered := strings.Replace(signed.URL, "anthem-2024-01-01", "anthem-2024-01-02", 1)
	require.False(t, signer.Validate(tampered))

	otherSecret := NewSigner("other", "https://cdn.example.com", "anthems")
	require.False(t, otherSecret.Validate(signed.URL))
}

func TestSignerRejectsExpiredLinks(t *testing.T) {
	signer := NewSigner("secret", "https://cdn.example.com", "anthems")
	signed := signer.DownloadURL("anthem-2024-01-01", "a.mp3", -time.Minute)
	require.False(t, signer.Validate(signed.URL))
}

func TestLocalUploaderWritesFile(t *testing.T) {
	up := &localUploader{baseDir: t.TempDir()}
	res, err := up.Upload(context.Background(), "anthems/anthem-2024-01-01.mp3", []byte("bytes"), "audio/mpeg")
	require.NoError(t, err)
	require.Equal(t, int64(5), res.Size)
	require.FileExists(t, res.URL)
}
