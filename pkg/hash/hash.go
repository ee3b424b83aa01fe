package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// MaxCacheKeyLen is the longest cache key stored verbatim.
const MaxCacheKeyLen = 200

// SHA256Hex returns the hex-encoded SHA256 hash of the input string.
func SHA256Hex(input string) string {
	h := sha256.Sum256([]byte(input))
	return hex.EncodeToString(h[:])
}

// Prefix returns the first prefixLen characters of SHA256(input).
// Used to correlate log lines without writing raw client addresses.
func Prefix(input string, prefixLen int) string {
	full := SHA256Hex(input)
	if prefixLen > len(full) {
		return full
	}
	return full[:prefixLen]
}

// CacheKey joins prefix and parts with ':'. Keys longer than
// MaxCacheKeyLen keep the prefix verbatim and digest the parts, so a
// shortened key still matches a prefix scan on "prefix:".
func CacheKey(prefix string, parts ...string) string {
	key := strings.Join(append([]string{prefix}, parts...), ":")
	if len(key) > MaxCacheKeyLen && len(parts) > 0 {
		return prefix + ":" + SHA256Hex(strings.Join(parts, ":"))
	}
	return key
}
