package util

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// ContentKeyForBytes returns the dedup key for an uploaded document.
// Identical byte content always maps to the same key.
func ContentKeyForBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ContentKeyForURL returns the dedup key for a URL submission. The key
// combines the normalized URL with its host so that the same page submitted
// with trivial variations (trailing slash, scheme case) still collides.
func ContentKeyForURL(rawURL string) (string, string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", "", fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", "", fmt.Errorf("unsupported url scheme: %q", u.Scheme)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("url has no host: %q", rawURL)
	}

	domain := strings.ToLower(u.Hostname())
	normalized := strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + strings.TrimSuffix(u.Path, "/")
	if u.RawQuery != "" {
		normalized += "?" + u.RawQuery
	}

	sum := sha256.Sum256([]byte(normalized + "|" + domain))
	return hex.EncodeToString(sum[:]), domain, nil
}
