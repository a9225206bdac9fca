package commit

import (
	"fmt"
	"strings"

	"github.com/bluesky-social/vds/mpt/nibble"
)

// KeyMode selects how user keys map to trie paths.
type KeyMode uint8

const (
	// KeyRaw uses the key bytes as the path.
	KeyRaw KeyMode = iota
	// KeyHashed uses H(key) as the path, so every path has the same length.
	KeyHashed
)

func (m KeyMode) String() string {
	switch m {
	case KeyRaw:
		return "raw"
	case KeyHashed:
		return "hashed"
	default:
		return fmt.Sprintf("KeyMode(%d)", uint8(m))
	}
}

func ParseKeyMode(s string) (KeyMode, error) {
	switch strings.ToLower(s) {
	case "raw", "plain":
		return KeyRaw, nil
	case "hashed", "secure", "":
		return KeyHashed, nil
	default:
		return 0, fmt.Errorf("unknown key mode: %q", s)
	}
}

// Path maps a user key to its trie path.
func (m KeyMode) Path(h Hasher, key []byte) nibble.Path {
	if m == KeyHashed {
		return nibble.FromBytes(h.Digest(key))
	}
	return nibble.FromBytes(key)
}
