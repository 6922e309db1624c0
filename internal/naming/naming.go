// Package naming validates and generates channel and group names.
//
// Channel names identify exactly one consumer's inbox for the lifetime of
// its connection: <prefix>!<random>, where the "!" splits a non-local
// portion (used for shard routing) from a local portion. Group names share
// the same character constraints but never contain "!".
package naming

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// MaxNameLength is the hard upper bound on channel and group name length.
const MaxNameLength = 100

// ErrInvalidName is returned when a name fails validation (by
// NewChannelName here, and by the layer backends); callers that need to
// react to invalid names should use errors.Is against this sentinel. The
// Valid* functions themselves return a bool.
var ErrInvalidName = errors.New("naming: invalid name")

// randomSuffixBytes is the number of random bytes base64-url-encoded into
// the ~12 character suffix spec.md §4.1 calls for.
const randomSuffixBytes = 9

// ValidChannelName reports whether s is a syntactically valid channel name.
// When requireClientPrefix is true, s must contain a "!" separator.
func ValidChannelName(s string, requireClientPrefix bool) bool {
	if !validNameChars(s) {
		return false
	}
	if requireClientPrefix && indexByte(s, '!') < 0 {
		return false
	}
	return true
}

// ValidGroupName reports whether s is a syntactically valid group name.
// Group names use the same character constraints as channel names but
// never contain "!".
func ValidGroupName(s string) bool {
	if !validNameChars(s) {
		return false
	}
	return indexByte(s, '!') < 0
}

// ValidType reports whether s is a syntactically valid dispatch type:
// non-empty, made only of lowercase ASCII letters, digits, "_" and ".",
// with "." never leading or trailing.
func ValidType(s string) bool {
	if s == "" || s[0] == '.' || s[len(s)-1] == '.' {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '.' || c == '_':
		default:
			return false
		}
	}
	return true
}

func validNameChars(s string) bool {
	if s == "" || len(s) > MaxNameLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c <= 0x20 || c >= 0x7F {
			// no whitespace, no control/non-ASCII bytes
			return false
		}
	}
	return true
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// NewChannelName returns a fresh process-unique channel name with the given
// prefix, of the form "<prefix>!<random>". The random suffix is drawn from
// a cryptographically strong source.
func NewChannelName(prefix string) (string, error) {
	suffix, err := randomSuffix()
	if err != nil {
		return "", fmt.Errorf("naming: generate channel name: %w", err)
	}
	name := prefix + "!" + suffix
	if !ValidChannelName(name, true) {
		return "", fmt.Errorf("%w: generated name %q", ErrInvalidName, name)
	}
	return name, nil
}

// randomSuffix returns a random, URL-safe token used as the non-local
// portion of a generated channel name.
func randomSuffix() (string, error) {
	buf := make([]byte, randomSuffixBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// NonLocalPart returns the portion of a channel name used for shard
// routing: the substring after "!", or the whole name if there is no "!".
func NonLocalPart(channel string) string {
	if i := indexByte(channel, '!'); i >= 0 {
		return channel[i+1:]
	}
	return channel
}
