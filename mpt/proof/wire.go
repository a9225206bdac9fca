package proof

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bluesky-social/vds/mpt/commit"
	"github.com/bluesky-social/vds/mpt/node"
)

type Format string

const (
	// FormatMPF is the forestry CBOR step list checked by the Aiken on-chain verifier.
	FormatMPF Format = "mpf"
	// FormatClassic is a CBOR list of encoded nodes from the root down.
	FormatClassic Format = "classic"
	// FormatJSON is a readable dump of the traversal, for debugging.
	FormatJSON Format = "json"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatMPF, FormatClassic, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown proof format: %q", s)
	}
}

// Encode renders a traversal in the given wire format.
func Encode(format Format, s commit.Scheme, t *Traversal) ([]byte, error) {
	switch format {
	case FormatMPF:
		m, ok := s.(*commit.MPF)
		if !ok {
			return nil, fmt.Errorf("%w: forestry proofs need the mpf scheme, not %s", ErrUnsupportedFormat, s.Name())
		}
		steps, err := MPFSteps(m, t)
		if err != nil {
			return nil, err
		}
		return EncodeMPF(steps)
	case FormatClassic:
		nodes, err := ClassicNodes(s, t)
		if err != nil {
			return nil, err
		}
		return EncodeClassic(node.NewBinaryCodec(s.Hasher().Size()), nodes)
	case FormatJSON:
		return json.Marshal(t)
	default:
		return nil, fmt.Errorf("unknown proof format: %q", format)
	}
}

// VerifyWire checks a proof in wire form. The key is mapped to its path with mode, exactly as the
// trie that produced the proof does. A well-formed proof that does not match returns (false, nil).
func VerifyWire(format Format, s commit.Scheme, mode commit.KeyMode, expectedRoot, key, value []byte, including bool, wire []byte) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("%w: empty key", ErrMalformedProof)
	}
	path := mode.Path(s.Hasher(), key)

	switch format {
	case FormatMPF:
		m, ok := s.(*commit.MPF)
		if !ok {
			return false, fmt.Errorf("%w: forestry proofs need the mpf scheme, not %s", ErrUnsupportedFormat, s.Name())
		}
		steps, err := DecodeMPF(wire, m.Hasher().Size())
		if err != nil {
			return false, err
		}
		if mode == commit.KeyHashed {
			for i, st := range steps {
				if st.Kind == tagLeaf && len(st.Key) != m.Hasher().Size() {
					return false, fmt.Errorf("%w: step %d leaf key has %d bytes", ErrMalformedProof, i, len(st.Key))
				}
			}
		}
		return verifyMPFSteps(m, expectedRoot, path, value, including, steps)
	case FormatClassic:
		return VerifyClassic(s, node.NewBinaryCodec(s.Hasher().Size()), expectedRoot, path, value, including, wire)
	case FormatJSON:
		var t Traversal
		if err := json.Unmarshal(wire, &t); err != nil {
			return false, fmt.Errorf("%w: %w", ErrMalformedProof, err)
		}
		return Verify(s, expectedRoot, path, value, including, &t)
	default:
		return false, fmt.Errorf("unknown proof format: %q", format)
	}
}

// CheckWire is VerifyWire with a failed check reported as ErrInvalidProof.
func CheckWire(format Format, s commit.Scheme, mode commit.KeyMode, expectedRoot, key, value []byte, including bool, wire []byte) error {
	ok, err := VerifyWire(format, s, mode, expectedRoot, key, value, including, wire)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidProof
	}
	return nil
}
