package gc

import (
	"context"
	"fmt"

	"github.com/bluesky-social/vds/mpt/store"
)

// refcount retires each version by dropping its root index entry and decrementing its root. A node
// that reaches zero is deleted and its children are decremented in turn.
//
// Within a version the root index delete is queued before any decrement, so an interrupted run can
// leave zero-refcount nodes behind but never retires a version twice.
func (m *Manager) refcount(ctx context.Context, rep *Report, opts Options) error {
	bt := m.newBatcher(rep, opts)
	// counts written or queued by this run, by digest
	counts := make(map[string]uint64)

	read := func(d []byte) (uint64, error) {
		if rc, ok := counts[string(d)]; ok {
			return rc, nil
		}
		return store.ReadRefcount(ctx, m.st, m.keys, d)
	}

	for _, v := range rep.Retired {
		root, err := m.rootOf(ctx, v)
		if err != nil {
			return err
		}
		m.index.DeleteRoot(bt.b, v)
		if root == nil {
			continue
		}

		stack := [][]byte{root}
		for len(stack) > 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			d := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			rep.Scanned++

			rc, err := read(d)
			if err != nil {
				return err
			}
			if rc == 0 {
				// already unreferenced: an earlier interrupted run, or a node kept by mark-sweep
				m.log.Warn("decrementing node without references", "digest", fmt.Sprintf("%x", d), "version", v)
				continue
			}
			rc--
			counts[string(d)] = rc
			if rc > 0 {
				bt.b.Put(m.keys.Refcount(d), store.EncodeRefcount(rc))
				if err := bt.maybeFlush(ctx); err != nil {
					return err
				}
				continue
			}

			n, err := m.loadNode(ctx, d)
			if err != nil {
				return err
			}
			bt.b.Delete(m.keys.Node(d))
			bt.b.Delete(m.keys.Refcount(d))
			rep.Deleted++
			stack = append(stack, n.Refs()...)
			if err := bt.maybeFlush(ctx); err != nil {
				return err
			}
		}
	}
	return bt.flush(ctx)
}
