package proof

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/bluesky-social/vds/mpt/nibble"
	"github.com/bluesky-social/vds/mpt/node"
)

type jsonNode struct {
	Kind     string   `json:"kind"`
	Path     string   `json:"path,omitempty"`
	Children []string `json:"children,omitempty"`
	Child    string   `json:"child,omitempty"`
	Value    string   `json:"value,omitempty"`
}

type jsonStep struct {
	Branch   *jsonNode `json:"branch"`
	Nibble   int       `json:"nibble"`
	Neighbor *jsonNode `json:"neighbor,omitempty"`
}

type jsonTraversal struct {
	Type     string     `json:"type"`
	Path     string     `json:"path"`
	Steps    []jsonStep `json:"steps"`
	Terminal *jsonNode  `json:"terminal,omitempty"`
}

func toJSONNode(n node.Node) *jsonNode {
	switch n := n.(type) {
	case *node.Leaf:
		return &jsonNode{Kind: "leaf", Path: n.Suffix.String(), Value: hex.EncodeToString(n.Value)}
	case *node.Branch:
		out := &jsonNode{Kind: "branch", Path: n.Prefix.String(), Children: make([]string, 16)}
		for i, c := range n.Children {
			out.Children[i] = hex.EncodeToString(c)
		}
		if n.HasValue() {
			out.Value = hex.EncodeToString(n.Value)
		}
		return out
	case *node.Extension:
		return &jsonNode{Kind: "extension", Path: n.Path.String(), Child: hex.EncodeToString(n.Child)}
	default:
		return nil
	}
}

func fromJSONNode(j *jsonNode) (node.Node, error) {
	if j == nil {
		return nil, nil
	}
	path, err := nibble.ParseHex(j.Path)
	if err != nil {
		return nil, err
	}
	value, err := hex.DecodeString(j.Value)
	if err != nil {
		return nil, err
	}
	switch j.Kind {
	case "leaf":
		return &node.Leaf{Suffix: path, Value: value}, nil
	case "branch":
		if len(j.Children) != 16 {
			return nil, fmt.Errorf("branch has %d child slots", len(j.Children))
		}
		b := &node.Branch{Prefix: path}
		if len(value) > 0 {
			b.Value = value
		}
		for i, c := range j.Children {
			d, err := hex.DecodeString(c)
			if err != nil {
				return nil, err
			}
			if len(d) > 0 {
				b.Children[i] = d
			}
		}
		return b, nil
	case "extension":
		child, err := hex.DecodeString(j.Child)
		if err != nil {
			return nil, err
		}
		return &node.Extension{Path: path, Child: child}, nil
	default:
		return nil, fmt.Errorf("unknown node kind %q", j.Kind)
	}
}

func parseType(s string) (Type, error) {
	for _, t := range []Type{Inclusion, NonInclusionMissingBranch, NonInclusionDifferentLeaf} {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown proof type %q", s)
}

func (t *Traversal) MarshalJSON() ([]byte, error) {
	out := jsonTraversal{
		Type:     t.Type.String(),
		Path:     t.Path.String(),
		Steps:    make([]jsonStep, 0, len(t.Steps)),
		Terminal: toJSONNode(t.Terminal),
	}
	for _, st := range t.Steps {
		out.Steps = append(out.Steps, jsonStep{
			Branch:   toJSONNode(st.Branch),
			Nibble:   st.Nibble,
			Neighbor: toJSONNode(st.Neighbor),
		})
	}
	return json.Marshal(out)
}

func (t *Traversal) UnmarshalJSON(data []byte) error {
	var in jsonTraversal
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	typ, err := parseType(in.Type)
	if err != nil {
		return err
	}
	path, err := nibble.ParseHex(in.Path)
	if err != nil {
		return err
	}
	term, err := fromJSONNode(in.Terminal)
	if err != nil {
		return fmt.Errorf("terminal: %w", err)
	}
	steps := make([]Step, 0, len(in.Steps))
	for i, js := range in.Steps {
		bn, err := fromJSONNode(js.Branch)
		if err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		b, ok := bn.(*node.Branch)
		if !ok {
			return fmt.Errorf("step %d is not a branch", i)
		}
		nb, err := fromJSONNode(js.Neighbor)
		if err != nil {
			return fmt.Errorf("step %d neighbor: %w", i, err)
		}
		if js.Nibble < -1 || js.Nibble > 15 {
			return fmt.Errorf("step %d nibble %d", i, js.Nibble)
		}
		steps = append(steps, Step{Branch: b, Nibble: js.Nibble, Neighbor: nb})
	}
	*t = Traversal{Type: typ, Path: path, Steps: steps, Terminal: term}
	return nil
}
