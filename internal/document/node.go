// Package document is the generic tree a regions file parses into: a closed
// set of node kinds (Mapping, Sequence, Scalar) that keeps key order, tags,
// styles and comments so an untouched subtree serializes back unchanged.
package document

// Well-known tags.
const (
	TagStr  = "!!str"
	TagNull = "!!null"
	TagMap  = "!!map"
	TagSeq  = "!!seq"
	TagSet  = "!!set"
)

// Node is one of *Mapping, *Sequence or *Scalar.
type Node interface {
	isNode()
}

// Scalar is a leaf value in its textual form.
type Scalar struct {
	Value string
	Tag   string
	meta  meta
}

// Sequence is an ordered list of nodes.
type Sequence struct {
	Items []Node
	Tag   string
	meta  meta
}

// Mapping is an ordered list of key/value entries.
type Mapping struct {
	Entries []Entry
	Tag     string
	meta    meta
}

// Entry is one key/value pair of a Mapping. Keys are scalars in every
// document this tool reads, but any node is kept as-is.
type Entry struct {
	Key   Node
	Value Node
}

func (*Scalar) isNode()   {}
func (*Sequence) isNode() {}
func (*Mapping) isNode()  {}

// String returns a plain string scalar.
func String(v string) *Scalar {
	return &Scalar{Value: v, Tag: TagStr}
}

// Null returns a null scalar.
func Null() *Scalar {
	return &Scalar{Value: "null", Tag: TagNull}
}

// NewSequence returns a block sequence holding items.
func NewSequence(items ...Node) *Sequence {
	return &Sequence{Items: items, Tag: TagSeq}
}

// NewMapping returns an empty block mapping.
func NewMapping() *Mapping {
	return &Mapping{Tag: TagMap}
}

// IsNull reports whether the scalar is a YAML null.
func (s *Scalar) IsNull() bool {
	return s.Tag == TagNull
}

// IsSet reports whether the mapping is a !!set (keys only, null values).
func (m *Mapping) IsSet() bool {
	return m.Tag == TagSet
}

// Get returns the value stored under the scalar key k.
func (m *Mapping) Get(k string) (Node, bool) {
	if i := m.index(k); i >= 0 {
		return m.Entries[i].Value, true
	}
	return nil, false
}

// Set replaces the value under k in place, or appends a new entry.
func (m *Mapping) Set(k string, v Node) {
	if i := m.index(k); i >= 0 {
		m.Entries[i].Value = v
		return
	}
	m.Entries = append(m.Entries, Entry{Key: String(k), Value: v})
}

// Keys returns the scalar keys in document order.
func (m *Mapping) Keys() []string {
	keys := make([]string, 0, len(m.Entries))
	for _, e := range m.Entries {
		if k, ok := e.Key.(*Scalar); ok {
			keys = append(keys, k.Value)
		}
	}
	return keys
}

func (m *Mapping) Len() int {
	return len(m.Entries)
}

func (m *Mapping) index(k string) int {
	for i, e := range m.Entries {
		if key, ok := e.Key.(*Scalar); ok && key.Value == k {
			return i
		}
	}
	return -1
}
