package typeid

import (
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Prefix encodes the entity kind carried by an identifier. Identifiers are
// "<prefix>_<26-char-base32>" where the suffix is a lowercased ULID, so ids
// of one kind sort by creation time.
type Prefix string

const (
	PrefixNode          Prefix = "node"
	PrefixEdge          Prefix = "edge"
	PrefixNodeMetadata  Prefix = "nmeta"
	PrefixNodeEmbedding Prefix = "nemb"
	PrefixEdgeEmbedding Prefix = "eemb"
	PrefixSource        Prefix = "src"
	PrefixAlias         Prefix = "alias"
	PrefixSourceLink    Prefix = "sln"
	PrefixUserProfile   Prefix = "upf"
	PrefixMessage       Prefix = "msg"
)

const suffixLen = 26

var knownPrefixes = map[Prefix]struct{}{
	PrefixNode:          {},
	PrefixEdge:          {},
	PrefixNodeMetadata:  {},
	PrefixNodeEmbedding: {},
	PrefixEdgeEmbedding: {},
	PrefixSource:        {},
	PrefixAlias:         {},
	PrefixSourceLink:    {},
	PrefixUserProfile:   {},
	PrefixMessage:       {},
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New returns a fresh identifier for the given prefix.
func New(p Prefix) string {
	entropyMu.Lock()
	id := ulid.MustNew(ulid.Timestamp(time.Now().UTC()), entropy)
	entropyMu.Unlock()
	return string(p) + "_" + strings.ToLower(id.String())
}

// Parse validates s against the expected prefix and returns it unchanged.
// Foreign prefixes and malformed suffixes are rejected.
func Parse(s string, want Prefix) (string, error) {
	p, suffix, err := split(s)
	if err != nil {
		return "", err
	}
	if p != want {
		return "", fmt.Errorf("typeid: expected prefix %q, got %q in %q", want, p, s)
	}
	if err := validateSuffix(suffix); err != nil {
		return "", err
	}
	return s, nil
}

// PrefixOf reports the prefix of s when s is a well-formed identifier of any
// known kind.
func PrefixOf(s string) (Prefix, bool) {
	p, suffix, err := split(s)
	if err != nil {
		return "", false
	}
	if err := validateSuffix(suffix); err != nil {
		return "", false
	}
	return p, true
}

func IsValid(s string, want Prefix) bool {
	_, err := Parse(s, want)
	return err == nil
}

// Time extracts the creation timestamp embedded in the identifier's suffix.
func Time(s string) (time.Time, error) {
	_, suffix, err := split(s)
	if err != nil {
		return time.Time{}, err
	}
	id, err := ulid.ParseStrict(strings.ToUpper(suffix))
	if err != nil {
		return time.Time{}, fmt.Errorf("typeid: bad suffix in %q: %w", s, err)
	}
	return ulid.Time(id.Time()), nil
}

func split(s string) (Prefix, string, error) {
	i := strings.IndexByte(s, '_')
	if i <= 0 || i == len(s)-1 {
		return "", "", fmt.Errorf("typeid: malformed id %q", s)
	}
	p := Prefix(s[:i])
	if _, ok := knownPrefixes[p]; !ok {
		return "", "", fmt.Errorf("typeid: unknown prefix %q in %q", s[:i], s)
	}
	return p, s[i+1:], nil
}

func validateSuffix(suffix string) error {
	if len(suffix) != suffixLen {
		return fmt.Errorf("typeid: suffix must be %d chars, got %d", suffixLen, len(suffix))
	}
	if _, err := ulid.ParseStrict(strings.ToUpper(suffix)); err != nil {
		return fmt.Errorf("typeid: bad suffix %q: %w", suffix, err)
	}
	return nil
}
