package gc

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

type markSet struct {
	lk   sync.Mutex
	seen map[string]struct{}
}

// add reports whether d was newly marked.
func (ms *markSet) add(d []byte) bool {
	ms.lk.Lock()
	defer ms.lk.Unlock()
	if _, ok := ms.seen[string(d)]; ok {
		return false
	}
	ms.seen[string(d)] = struct{}{}
	return true
}

func (ms *markSet) has(d []byte) bool {
	ms.lk.Lock()
	defer ms.lk.Unlock()
	_, ok := ms.seen[string(d)]
	return ok
}

// markSweep retires versions first, then marks from every retained root in parallel and deletes every
// node left unmarked along with its refcount record. Refcounts of surviving nodes are not recomputed,
// so they may stay higher than the number of live parents.
func (m *Manager) markSweep(ctx context.Context, rep *Report, opts Options) error {
	bt := m.newBatcher(rep, opts)
	for _, v := range rep.Retired {
		m.index.DeleteRoot(bt.b, v)
	}
	// retired roots go before any node so a crash never leaves a retained root dangling
	if err := bt.flush(ctx); err != nil {
		return err
	}

	marks := &markSet{seen: make(map[string]struct{})}
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(opts.Workers)
	for _, v := range rep.Retained {
		v := v
		eg.Go(func() error {
			root, err := m.rootOf(ectx, v)
			if err != nil {
				return err
			}
			if root == nil {
				return nil
			}
			return m.mark(ectx, marks, root)
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	rep.Marked = len(marks.seen)

	var garbage [][]byte
	err := m.st.Iterate(ctx, m.keys.NodePrefix(), func(key, _ []byte) error {
		rep.Scanned++
		d := m.keys.DigestFromNodeKey(key)
		if !marks.has(d) {
			garbage = append(garbage, d)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, d := range garbage {
		bt.b.Delete(m.keys.Node(d))
		bt.b.Delete(m.keys.Refcount(d))
		rep.Deleted++
		if err := bt.maybeFlush(ctx); err != nil {
			return err
		}
	}
	return bt.flush(ctx)
}

func (m *Manager) mark(ctx context.Context, marks *markSet, root []byte) error {
	stack := [][]byte{root}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		d := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !marks.add(d) {
			continue
		}
		n, err := m.loadNode(ctx, d)
		if err != nil {
			return err
		}
		stack = append(stack, n.Refs()...)
	}
	return nil
}
