package document

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// meta carries presentation details that only matter for serialization.
type meta struct {
	style       yaml.Style
	headComment string
	lineComment string
	footComment string
}

func metaOf(n *yaml.Node) meta {
	return meta{
		style:       n.Style,
		headComment: n.HeadComment,
		lineComment: n.LineComment,
		footComment: n.FootComment,
	}
}

func (m meta) apply(n *yaml.Node) *yaml.Node {
	n.Style = m.style
	n.HeadComment = m.headComment
	n.LineComment = m.lineComment
	n.FootComment = m.footComment
	return n
}

// Alias expansion may add at most aliasRatio nodes per source node, with a
// floor of minAliasBudget and a ceiling of maxAliasBudget.
const (
	aliasRatio     = 10
	minAliasBudget = 10_000
	maxAliasBudget = 1_000_000
)

// ErrAliasExpansion is returned for documents whose aliases expand past the
// allowed budget, including aliases that refer to their own anchor.
var ErrAliasExpansion = errors.New("yaml aliases expand beyond the allowed size")

// Decode parses one YAML document. An empty input yields a null scalar.
// Aliases are expanded into copies of their anchored node.
func Decode(r io.Reader) (Node, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return Null(), nil
		}
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	d := &decoder{budget: aliasBudget(countNodes(&doc))}
	return d.fromYAML(&doc)
}

// Encode writes root as a YAML document with two-space indentation.
func Encode(w io.Writer, root Node) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(toYAML(root)); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}

// decoder converts a yaml.Node tree and accounts for nodes produced by
// alias expansion.
type decoder struct {
	budget     int
	expanded   int
	aliasDepth int
}

func aliasBudget(sourceNodes int) int {
	return min(max(aliasRatio*sourceNodes, minAliasBudget), maxAliasBudget)
}

// countNodes counts the nodes present in the source, without following aliases.
func countNodes(n *yaml.Node) int {
	total := 1
	for _, c := range n.Content {
		total += countNodes(c)
	}
	return total
}

func (d *decoder) fromYAML(n *yaml.Node) (Node, error) {
	if d.aliasDepth > 0 {
		d.expanded++
		if d.expanded > d.budget {
			return nil, fmt.Errorf("line %d: %w", n.Line, ErrAliasExpansion)
		}
	}

	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return Null(), nil
		}
		root, err := d.fromYAML(n.Content[0])
		if err != nil {
			return nil, err
		}
		attachDocumentComments(root, n)
		return root, nil

	case yaml.AliasNode:
		if n.Alias == nil {
			return nil, fmt.Errorf("line %d: dangling alias %q", n.Line, n.Value)
		}
		d.aliasDepth++
		defer func() { d.aliasDepth-- }()
		return d.fromYAML(n.Alias)

	case yaml.ScalarNode:
		return &Scalar{Value: n.Value, Tag: n.ShortTag(), meta: metaOf(n)}, nil

	case yaml.SequenceNode:
		seq := &Sequence{Tag: n.ShortTag(), meta: metaOf(n), Items: make([]Node, 0, len(n.Content))}
		for _, c := range n.Content {
			item, err := d.fromYAML(c)
			if err != nil {
				return nil, err
			}
			seq.Items = append(seq.Items, item)
		}
		return seq, nil

	case yaml.MappingNode:
		if len(n.Content)%2 != 0 {
			return nil, fmt.Errorf("line %d: mapping with odd number of nodes", n.Line)
		}
		m := &Mapping{Tag: n.ShortTag(), meta: metaOf(n), Entries: make([]Entry, 0, len(n.Content)/2)}
		for i := 0; i < len(n.Content); i += 2 {
			k, err := d.fromYAML(n.Content[i])
			if err != nil {
				return nil, err
			}
			v, err := d.fromYAML(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			m.Entries = append(m.Entries, Entry{Key: k, Value: v})
		}
		return m, nil
	}
	return nil, fmt.Errorf("line %d: unsupported yaml node kind %d", n.Line, n.Kind)
}

// attachDocumentComments moves comments owned by the document node onto the
// root so they survive the round trip.
func attachDocumentComments(root Node, doc *yaml.Node) {
	var m *meta
	switch v := root.(type) {
	case *Scalar:
		m = &v.meta
	case *Sequence:
		m = &v.meta
	case *Mapping:
		m = &v.meta
	default:
		return
	}
	m.headComment = joinComments(doc.HeadComment, m.headComment)
	m.footComment = joinComments(m.footComment, doc.FootComment)
}

func joinComments(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + "\n" + b
}

func toYAML(n Node) *yaml.Node {
	switch v := n.(type) {
	case *Scalar:
		return v.meta.apply(&yaml.Node{Kind: yaml.ScalarNode, Tag: v.Tag, Value: v.Value})

	case *Sequence:
		out := v.meta.apply(&yaml.Node{Kind: yaml.SequenceNode, Tag: v.Tag})
		out.Content = make([]*yaml.Node, 0, len(v.Items))
		for _, item := range v.Items {
			out.Content = append(out.Content, toYAML(item))
		}
		return out

	case *Mapping:
		out := v.meta.apply(&yaml.Node{Kind: yaml.MappingNode, Tag: v.Tag})
		out.Content = make([]*yaml.Node, 0, 2*len(v.Entries))
		for _, e := range v.Entries {
			out.Content = append(out.Content, toYAML(e.Key), toYAML(e.Value))
		}
		return out
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: TagNull, Value: "null"}
}
