package regions

import "six2five/internal/document"

// idList is a unique-ids value that can be iterated and filtered: a sequence,
// or a !!set mapping whose keys are the ids.
type idList interface {
	elements() []document.Node
	// filter keeps the elements for which keep returns true, in order.
	filter(keep func(document.Node) bool)
}

func newIDList(n document.Node) idList {
	switch v := n.(type) {
	case *document.Sequence:
		return seqList{v}
	case *document.Mapping:
		if v.IsSet() {
			return setList{v}
		}
	}
	return nil
}

type seqList struct{ seq *document.Sequence }

func (l seqList) elements() []document.Node {
	return l.seq.Items
}

func (l seqList) filter(keep func(document.Node) bool) {
	kept := make([]document.Node, 0, len(l.seq.Items))
	for _, item := range l.seq.Items {
		if keep(item) {
			kept = append(kept, item)
		}
	}
	l.seq.Items = kept
}

type setList struct{ set *document.Mapping }

func (l setList) elements() []document.Node {
	out := make([]document.Node, 0, len(l.set.Entries))
	for _, e := range l.set.Entries {
		out = append(out, e.Key)
	}
	return out
}

func (l setList) filter(keep func(document.Node) bool) {
	kept := make([]document.Entry, 0, len(l.set.Entries))
	for _, e := range l.set.Entries {
		if keep(e.Key) {
			kept = append(kept, e)
		}
	}
	l.set.Entries = kept
}
