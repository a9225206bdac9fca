package proof

import (
	"bytes"
	"fmt"
	"io"

	"github.com/bluesky-social/vds/mpt/commit"
	"github.com/bluesky-social/vds/mpt/nibble"
	"github.com/bluesky-social/vds/mpt/node"

	cbg "github.com/whyrusleeping/cbor-gen"
)

// Constructor tags of the forestry proof steps, as plutus data.
const (
	tagBranch = 121
	tagFork   = 122
	tagLeaf   = 123
)

// bound on decoded byte strings; raw-mode leaf keys are the longest field
const maxMPFBytes = 1 << 16

// MPFStep is one step of a forestry proof. Kind is one of the step tags; only the fields of that
// kind are set.
type MPFStep struct {
	Kind int
	Skip int

	// branch
	Neighbors [4][]byte

	// fork
	Nibble int
	Prefix []byte
	Root   []byte

	// leaf
	Key   []byte
	Value []byte
}

// MPFSteps converts a traversal into forestry proof steps. Branches with a single sibling become fork
// or leaf steps, and a diverging terminal becomes a final fork or leaf step.
func MPFSteps(m *commit.MPF, t *Traversal) ([]MPFStep, error) {
	var out []MPFStep
	pos := 0
	for i, st := range t.Steps {
		if st.Nibble < 0 || st.Branch.HasValue() {
			return nil, fmt.Errorf("%w: branch values have no forestry encoding", ErrUnsupportedFormat)
		}
		skip := st.Branch.Prefix.Len()
		nb := st.NeighborNibble()
		switch neighbor := st.Neighbor.(type) {
		case *node.Leaf:
			if nb < 0 {
				return nil, fmt.Errorf("%w: step %d has a neighbor but not exactly two children", ErrMalformedProof, i)
			}
			full := nibble.Concat(t.Path.Slice(0, pos+skip), nibble.Of(byte(nb)), neighbor.Suffix)
			key, err := full.Bytes()
			if err != nil {
				return nil, fmt.Errorf("%w: neighbor key: %w", ErrUnsupportedFormat, err)
			}
			out = append(out, MPFStep{
				Kind:  tagLeaf,
				Skip:  skip,
				Key:   key,
				Value: m.Hasher().Digest(neighbor.Value),
			})
		case *node.Branch:
			if nb < 0 {
				return nil, fmt.Errorf("%w: step %d has a neighbor but not exactly two children", ErrMalformedProof, i)
			}
			out = append(out, MPFStep{
				Kind:   tagFork,
				Skip:   skip,
				Nibble: nb,
				Prefix: neighbor.Prefix.NibbleBytes(),
				Root:   m.Merkle16(neighbor.Children),
			})
		case nil:
			out = append(out, MPFStep{
				Kind:      tagBranch,
				Skip:      skip,
				Neighbors: m.Neighbors(st.Branch.Children, st.Nibble),
			})
		default:
			return nil, fmt.Errorf("%w: unexpected neighbor %T", ErrMalformedProof, neighbor)
		}
		pos += skip + 1
	}

	rem := t.Path.From(pos)
	switch term := t.Terminal.(type) {
	case *node.Leaf:
		if t.Type != NonInclusionDifferentLeaf {
			break
		}
		common := nibble.CommonPrefix(rem, term.Suffix)
		if common >= rem.Len() || common >= term.Suffix.Len() {
			return nil, fmt.Errorf("%w: key is a prefix of a stored key", ErrUnsupportedFormat)
		}
		key, err := nibble.Concat(t.Path.Slice(0, pos), term.Suffix).Bytes()
		if err != nil {
			return nil, fmt.Errorf("%w: conflicting key: %w", ErrUnsupportedFormat, err)
		}
		out = append(out, MPFStep{
			Kind:  tagLeaf,
			Skip:  common,
			Key:   key,
			Value: m.Hasher().Digest(term.Value),
		})
	case *node.Branch:
		common := nibble.CommonPrefix(rem, term.Prefix)
		if common >= rem.Len() {
			return nil, fmt.Errorf("%w: key is a prefix of a stored key", ErrUnsupportedFormat)
		}
		out = append(out, MPFStep{
			Kind:   tagFork,
			Skip:   common,
			Nibble: int(term.Prefix.At(common)),
			Prefix: term.Prefix.From(common + 1).NibbleBytes(),
			Root:   m.Merkle16(term.Children),
		})
	}
	return out, nil
}

// EncodeMPF writes forestry steps as a CBOR array of tagged constructors.
func EncodeMPF(steps []MPFStep) ([]byte, error) {
	buf := new(bytes.Buffer)
	cw := cbg.NewCborWriter(buf)
	if err := cw.WriteMajorTypeHeader(cbg.MajArray, uint64(len(steps))); err != nil {
		return nil, err
	}
	for _, st := range steps {
		if err := encodeMPFStep(cw, st); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func encodeMPFStep(cw *cbg.CborWriter, st MPFStep) error {
	if err := cw.WriteMajorTypeHeader(cbg.MajTag, uint64(st.Kind)); err != nil {
		return err
	}
	switch st.Kind {
	case tagBranch:
		if err := cw.WriteMajorTypeHeader(cbg.MajArray, 2); err != nil {
			return err
		}
		if err := cw.WriteMajorTypeHeader(cbg.MajUnsignedInt, uint64(st.Skip)); err != nil {
			return err
		}
		return cbg.WriteByteArray(cw, bytes.Join(st.Neighbors[:], nil))
	case tagFork:
		if err := cw.WriteMajorTypeHeader(cbg.MajArray, 2); err != nil {
			return err
		}
		if err := cw.WriteMajorTypeHeader(cbg.MajUnsignedInt, uint64(st.Skip)); err != nil {
			return err
		}
		if err := cw.WriteMajorTypeHeader(cbg.MajTag, tagBranch); err != nil {
			return err
		}
		if err := cw.WriteMajorTypeHeader(cbg.MajArray, 3); err != nil {
			return err
		}
		if err := cw.WriteMajorTypeHeader(cbg.MajUnsignedInt, uint64(st.Nibble)); err != nil {
			return err
		}
		if err := cbg.WriteByteArray(cw, st.Prefix); err != nil {
			return err
		}
		return cbg.WriteByteArray(cw, st.Root)
	case tagLeaf:
		if err := cw.WriteMajorTypeHeader(cbg.MajArray, 3); err != nil {
			return err
		}
		if err := cw.WriteMajorTypeHeader(cbg.MajUnsignedInt, uint64(st.Skip)); err != nil {
			return err
		}
		if err := cbg.WriteByteArray(cw, st.Key); err != nil {
			return err
		}
		return cbg.WriteByteArray(cw, st.Value)
	default:
		return fmt.Errorf("unknown forestry step kind %d", st.Kind)
	}
}

type mpfReader struct {
	cr         *cbg.CborReader
	digestSize int
}

func (r *mpfReader) header(wantMaj byte) (uint64, error) {
	maj, extra, err := r.cr.ReadHeader()
	if err != nil {
		return 0, err
	}
	if maj != wantMaj {
		return 0, fmt.Errorf("unexpected cbor major type %d (want %d)", maj, wantMaj)
	}
	return extra, nil
}

func (r *mpfReader) arrayOf(n uint64) error {
	l, err := r.header(cbg.MajArray)
	if err != nil {
		return err
	}
	if l != n {
		return fmt.Errorf("array has %d elements (want %d)", l, n)
	}
	return nil
}

func (r *mpfReader) readUint() (int, error) {
	v, err := r.header(cbg.MajUnsignedInt)
	if err != nil {
		return 0, err
	}
	if v > 1<<16 {
		return 0, fmt.Errorf("integer %d out of range", v)
	}
	return int(v), nil
}

func (r *mpfReader) readBytes() ([]byte, error) {
	return cbg.ReadByteArray(r.cr, maxMPFBytes)
}

func (r *mpfReader) digest() ([]byte, error) {
	b, err := r.readBytes()
	if err != nil {
		return nil, err
	}
	if len(b) != r.digestSize {
		return nil, fmt.Errorf("digest has %d bytes (want %d)", len(b), r.digestSize)
	}
	return b, nil
}

func (r *mpfReader) step() (MPFStep, error) {
	var st MPFStep
	tag, err := r.header(cbg.MajTag)
	if err != nil {
		return st, err
	}
	st.Kind = int(tag)
	switch tag {
	case tagBranch:
		if err := r.arrayOf(2); err != nil {
			return st, err
		}
		if st.Skip, err = r.readUint(); err != nil {
			return st, err
		}
		nbs, err := r.readBytes()
		if err != nil {
			return st, err
		}
		if len(nbs) != 4*r.digestSize {
			return st, fmt.Errorf("neighbors have %d bytes (want %d)", len(nbs), 4*r.digestSize)
		}
		for i := range st.Neighbors {
			st.Neighbors[i] = nbs[i*r.digestSize : (i+1)*r.digestSize]
		}
	case tagFork:
		if err := r.arrayOf(2); err != nil {
			return st, err
		}
		if st.Skip, err = r.readUint(); err != nil {
			return st, err
		}
		inner, err := r.header(cbg.MajTag)
		if err != nil {
			return st, err
		}
		if inner != tagBranch {
			return st, fmt.Errorf("fork neighbor has tag %d", inner)
		}
		if err := r.arrayOf(3); err != nil {
			return st, err
		}
		if st.Nibble, err = r.readUint(); err != nil {
			return st, err
		}
		if st.Nibble > 0x0f {
			return st, fmt.Errorf("fork neighbor nibble %d", st.Nibble)
		}
		if st.Prefix, err = r.readBytes(); err != nil {
			return st, err
		}
		if _, err := nibble.FromNibbles(st.Prefix); err != nil {
			return st, err
		}
		if st.Root, err = r.digest(); err != nil {
			return st, err
		}
	case tagLeaf:
		if err := r.arrayOf(3); err != nil {
			return st, err
		}
		if st.Skip, err = r.readUint(); err != nil {
			return st, err
		}
		if st.Key, err = r.readBytes(); err != nil {
			return st, err
		}
		if st.Value, err = r.digest(); err != nil {
			return st, err
		}
	default:
		return st, fmt.Errorf("unknown step tag %d", tag)
	}
	return st, nil
}

// DecodeMPF parses a forestry proof. Any deviation from the expected layout, including trailing
// bytes, wraps ErrMalformedProof.
func DecodeMPF(data []byte, digestSize int) ([]MPFStep, error) {
	br := bytes.NewReader(data)
	r := &mpfReader{cr: cbg.NewCborReader(br), digestSize: digestSize}
	n, err := r.header(cbg.MajArray)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedProof, err)
	}
	if n > 2*maxMPFBytes {
		return nil, fmt.Errorf("%w: %d steps", ErrMalformedProof, n)
	}
	steps := make([]MPFStep, 0, n)
	for i := uint64(0); i < n; i++ {
		st, err := r.step()
		if err != nil {
			return nil, fmt.Errorf("%w: step %d: %w", ErrMalformedProof, i, err)
		}
		steps = append(steps, st)
	}
	if _, err := br.ReadByte(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing bytes", ErrMalformedProof)
	}
	return steps, nil
}

// mpfEval recomputes a root from forestry steps the way the on-chain verifier does.
type mpfEval struct {
	m    *commit.MPF
	path nibble.Path
}

func (e *mpfEval) nextCursor(cursor int, st MPFStep, limit int) (int, error) {
	next := cursor + 1 + st.Skip
	if next > limit {
		return 0, fmt.Errorf("%w: proof runs past the end of the key path", ErrMalformedProof)
	}
	return next, nil
}

func (e *mpfEval) doBranch(cursor, next int, root []byte, neighbors [4][]byte) []byte {
	me := int(e.path.At(next - 1))
	prefix := e.path.Slice(cursor, next-1).NibbleBytes()
	return e.m.Hasher().Digest(prefix, e.m.Merkle16FromNeighbors(me, root, neighbors))
}

func (e *mpfEval) doFork(cursor, next int, root []byte, nbNibble int, nbPrefix, nbRoot []byte) ([]byte, error) {
	me := int(e.path.At(next - 1))
	if me == nbNibble {
		return nil, fmt.Errorf("%w: neighbor occupies the key's own slot", ErrMalformedProof)
	}
	prefix := e.path.Slice(cursor, next-1).NibbleBytes()
	h := e.m.Hasher()
	return h.Digest(prefix, e.m.SparseMerkle16(me, root, nbNibble, h.Digest(nbPrefix, nbRoot))), nil
}

// leafNeighbor returns the nibble and suffix of a leaf step's neighbor at next. The neighbor sits
// beside the key, so its key must share the path up to the branch.
func (e *mpfEval) leafNeighbor(st MPFStep, next int) (int, []byte, error) {
	kp := nibble.FromBytes(st.Key)
	if next > kp.Len() {
		return 0, nil, fmt.Errorf("%w: leaf step key is shorter than its position", ErrMalformedProof)
	}
	if !kp.Slice(0, next-1).Equal(e.path.Slice(0, next-1)) {
		return 0, nil, fmt.Errorf("%w: leaf step key leaves the path before its branch", ErrMalformedProof)
	}
	return int(kp.At(next - 1)), kp.From(next).MPFSuffix(), nil
}

func (e *mpfEval) including(cursor int, valueDigest []byte, steps []MPFStep) ([]byte, error) {
	if len(steps) == 0 {
		return e.m.Hasher().Digest(e.path.From(cursor).MPFSuffix(), valueDigest), nil
	}
	st := steps[0]
	next, err := e.nextCursor(cursor, st, e.path.Len())
	if err != nil {
		return nil, err
	}
	root, err := e.including(next, valueDigest, steps[1:])
	if err != nil {
		return nil, err
	}
	return e.fold(cursor, next, root, st)
}

func (e *mpfEval) excluding(cursor int, steps []MPFStep) ([]byte, error) {
	if len(steps) == 0 {
		return e.m.NullDigest(), nil
	}
	st := steps[0]
	if len(steps) == 1 {
		switch st.Kind {
		case tagFork:
			if cursor+st.Skip > e.path.Len() {
				return nil, fmt.Errorf("%w: proof runs past the end of the key path", ErrMalformedProof)
			}
			prefix := nibble.Concat(e.path.Slice(cursor, cursor+st.Skip), nibble.Of(byte(st.Nibble))).NibbleBytes()
			prefix = append(prefix, st.Prefix...)
			return e.m.Hasher().Digest(prefix, st.Root), nil
		case tagLeaf:
			kp := nibble.FromBytes(st.Key)
			if cursor > kp.Len() {
				return nil, fmt.Errorf("%w: leaf step key is shorter than its position", ErrMalformedProof)
			}
			if !kp.Slice(0, cursor).Equal(e.path.Slice(0, cursor)) {
				return nil, fmt.Errorf("%w: leaf step key leaves the path before its branch", ErrMalformedProof)
			}
			return e.m.Hasher().Digest(kp.From(cursor).MPFSuffix(), st.Value), nil
		}
	}
	next, err := e.nextCursor(cursor, st, e.path.Len())
	if err != nil {
		return nil, err
	}
	root, err := e.excluding(next, steps[1:])
	if err != nil {
		return nil, err
	}
	return e.fold(cursor, next, root, st)
}

func (e *mpfEval) fold(cursor, next int, root []byte, st MPFStep) ([]byte, error) {
	switch st.Kind {
	case tagBranch:
		return e.doBranch(cursor, next, root, st.Neighbors), nil
	case tagFork:
		return e.doFork(cursor, next, root, st.Nibble, st.Prefix, st.Root)
	case tagLeaf:
		nb, suffix, err := e.leafNeighbor(st, next)
		if err != nil {
			return nil, err
		}
		return e.doFork(cursor, next, root, nb, suffix, st.Value)
	default:
		return nil, fmt.Errorf("%w: unknown step kind %d", ErrMalformedProof, st.Kind)
	}
}

// VerifyMPF checks a forestry proof for path against expectedRoot. Including recomputes the root of a
// trie holding value at path; excluding recomputes the root of the trie without path.
func VerifyMPF(m *commit.MPF, expectedRoot []byte, path nibble.Path, value []byte, including bool, wire []byte) (bool, error) {
	steps, err := DecodeMPF(wire, m.Hasher().Size())
	if err != nil {
		return false, err
	}
	return verifyMPFSteps(m, expectedRoot, path, value, including, steps)
}

func verifyMPFSteps(m *commit.MPF, expectedRoot []byte, path nibble.Path, value []byte, including bool, steps []MPFStep) (bool, error) {
	e := &mpfEval{m: m, path: path}
	var (
		got []byte
		err error
	)
	if including {
		if len(value) == 0 {
			return false, nil
		}
		got, err = e.including(0, m.Hasher().Digest(value), steps)
	} else {
		got, err = e.excluding(0, steps)
	}
	if err != nil {
		return false, err
	}
	return bytes.Equal(got, expectedRoot), nil
}
