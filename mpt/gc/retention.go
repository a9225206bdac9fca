package gc

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// RetentionPolicy picks the committed versions that survive a collection. Everything else is retired.
type RetentionPolicy interface {
	// Retain returns the members of versions to keep. versions is sorted ascending.
	Retain(versions []uint64) []uint64
	String() string
}

type keepLatest struct {
	n int
}

// KeepLatest keeps the n most recent versions.
func KeepLatest(n int) RetentionPolicy {
	return keepLatest{n: n}
}

func (k keepLatest) Retain(versions []uint64) []uint64 {
	if k.n <= 0 {
		return nil
	}
	if len(versions) <= k.n {
		return versions
	}
	return versions[len(versions)-k.n:]
}

func (k keepLatest) String() string {
	return fmt.Sprintf("keep-latest(%d)", k.n)
}

type keepVersions struct {
	keep []uint64
}

// KeepVersions keeps exactly the listed versions. Versions that were never committed are ignored.
func KeepVersions(vs ...uint64) RetentionPolicy {
	keep := slices.Clone(vs)
	slices.Sort(keep)
	return keepVersions{keep: slices.Compact(keep)}
}

func (k keepVersions) Retain(versions []uint64) []uint64 {
	var out []uint64
	for _, v := range versions {
		if _, ok := slices.BinarySearch(k.keep, v); ok {
			out = append(out, v)
		}
	}
	return out
}

func (k keepVersions) String() string {
	parts := make([]string, len(k.keep))
	for i, v := range k.keep {
		parts[i] = strconv.FormatUint(v, 10)
	}
	return "keep-versions(" + strings.Join(parts, ",") + ")"
}

// ParsePolicy reads a policy from its command line form: "latest:N" or "versions:V1,V2,...".
func ParsePolicy(s string) (RetentionPolicy, error) {
	kind, arg, ok := strings.Cut(s, ":")
	if !ok {
		return nil, fmt.Errorf("retention policy %q: expected latest:N or versions:V1,V2", s)
	}
	switch kind {
	case "latest":
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("retention policy %q: need a positive count", s)
		}
		return KeepLatest(n), nil
	case "versions":
		var vs []uint64
		for _, part := range strings.Split(arg, ",") {
			v, err := strconv.ParseUint(strings.TrimSpace(part), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("retention policy %q: %w", s, err)
			}
			vs = append(vs, v)
		}
		return KeepVersions(vs...), nil
	default:
		return nil, fmt.Errorf("unknown retention policy kind %q", kind)
	}
}
