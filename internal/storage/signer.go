package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Signer issues expiring, HMAC-signed download links for completed anthems.
type Signer struct {
	secret  []byte
	baseURL string
	bucket  string
}

// NewSigner builds a signer over the public storage base URL.
func NewSigner(secret, baseURL, bucket string) *Signer {
	if bucket == "" {
		bucket = "anthems"
	}
	return &Signer{secret: []byte(secret), baseURL: baseURL, bucket: bucket}
}

// SignedURL holds a download link and its expiry.
type SignedURL struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// DownloadURL mints a signed link for an anthem's audio file.
func (s *Signer) DownloadURL(anthemID, fileName string, ttl time.Duration) SignedURL {
	expiresAt := time.Now().UTC().Add(ttl)
	sig := s.signature(anthemID, expiresAt)
	raw := fmt.Sprintf("%s/%s/%s/%s?signature=%s&expires=%d",
		s.baseURL, s.bucket, anthemID, url.PathEscape(fileName), sig, expiresAt.UnixMilli())
	return SignedURL{URL: raw, ExpiresAt: expiresAt}
}

// Validate checks a link's signature and expiry. The anthem ID is recovered
// from the path, so a signature cannot be replayed across anthems.
func (s *Signer) Validate(link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	sig := u.Query().Get("signature")
	expiresRaw := u.Query().Get("expires")
	if sig == "" || expiresRaw == "" {
		return false
	}
	expiresMs, err := strconv.ParseInt(expiresRaw, 10, 64)
	if err != nil {
		return false
	}
	expiresAt := time.UnixMilli(expiresMs)
	if time.Now().After(expiresAt) {
		return false
	}

	// Path layout: /<bucket>/<anthemID>/<file>
	segs := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
	if len(segs) < 2 {
		return false
	}
	anthemID := segs[len(segs)-2]
	expected := s.signature(anthemID, expiresAt)
	return hmac.Equal([]byte(sig), []byte(expected))
}

func (s *Signer) signature(anthemID string, expiresAt time.Time) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s:%d", anthemID, expiresAt.UnixMilli())
	return hex.EncodeToString(mac.Sum(nil))
}
