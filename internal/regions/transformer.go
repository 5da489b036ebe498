// Package regions rewrites the identity lists of a WorldGuard regions
// document: every profile id under regions.<name>.{owners,members}.unique-ids
// that resolves to a name is replaced by that name in the sibling players list.
package regions

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"six2five/internal/document"
	"six2five/pkg/domain"
)

// Document keys.
const (
	KeyRegions   = "regions"
	KeyOwners    = "owners"
	KeyMembers   = "members"
	KeyUniqueIDs = "unique-ids"
	KeyPlayers   = "players"
)

var domainKeys = []string{KeyOwners, KeyMembers}

// Report summarizes one Transform call. Counts are per list element, so an
// id listed in two domains is counted twice.
type Report struct {
	Regions    int
	Domains    int
	Resolved   int
	Unresolved int
	Malformed  int
}

type Transformer struct {
	resolver    NameResolver
	logger      *slog.Logger
	tracer      trace.Tracer
	concurrency int
}

type Option func(*Transformer)

func WithLogger(logger *slog.Logger) Option {
	return func(t *Transformer) {
		t.logger = logger
	}
}

// WithConcurrency resolves up to n distinct ids in parallel before the
// rewrite walk. Values below 2 keep resolution inside the walk.
func WithConcurrency(n int) Option {
	return func(t *Transformer) {
		t.concurrency = n
	}
}

func New(resolver NameResolver, opts ...Option) (*Transformer, error) {
	if resolver == nil {
		return nil, errors.New("name resolver is required")
	}
	t := &Transformer{
		resolver:    resolver,
		logger:      slog.New(slog.DiscardHandler),
		tracer:      otel.Tracer("six2five/regions"),
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Transform rewrites root in place. A document without the expected
// structure is left untouched; unresolvable and malformed ids stay where
// they are. Transform never fails.
func (t *Transformer) Transform(ctx context.Context, root document.Node) Report {
	ctx, span := t.tracer.Start(ctx, "regions.transform")
	defer span.End()

	var report Report
	regions := regionsOf(root)
	if regions == nil {
		t.logger.InfoContext(ctx, "document has no regions")
		return report
	}

	names := newNameTable(t.resolver)
	if t.concurrency > 1 {
		names.prefetch(ctx, collectIDs(regions), t.concurrency)
	}

	for _, entry := range regions.Entries {
		region, ok := entry.Value.(*document.Mapping)
		if !ok {
			continue
		}
		regionName := keyString(entry.Key)
		report.Regions++
		t.logger.InfoContext(ctx, "processing region", "region", regionName)

		for _, key := range domainKeys {
			v, ok := region.Get(key)
			if !ok {
				continue
			}
			if dom, ok := v.(*document.Mapping); ok {
				t.processDomain(ctx, regionName, key, dom, names, &report)
			}
		}
	}

	span.SetAttributes(
		attribute.Int("regions.count", report.Regions),
		attribute.Int("ids.resolved", report.Resolved),
		attribute.Int("ids.unresolved", report.Unresolved),
		attribute.Int("ids.malformed", report.Malformed),
	)
	return report
}

func (t *Transformer) processDomain(ctx context.Context, region, role string, dom *document.Mapping, names *nameTable, report *Report) {
	raw, ok := dom.Get(KeyUniqueIDs)
	if !ok {
		return
	}
	list := newIDList(raw)
	if list == nil {
		return
	}
	report.Domains++

	var players *document.Sequence
	list.filter(func(element document.Node) bool {
		id, rawValue, err := parseElement(element)
		if err != nil {
			report.Malformed++
			t.logger.WarnContext(ctx, "invalid unique id",
				"region", region, "domain", role, "value", rawValue, "error", err)
			return true
		}

		name, ok := names.resolve(ctx, id)
		if !ok {
			report.Unresolved++
			t.logger.InfoContext(ctx, "profile left unresolved",
				"region", region, "domain", role, "profile_id", id.String())
			return true
		}

		report.Resolved++
		t.logger.InfoContext(ctx, "resolved profile",
			"region", region, "domain", role, "profile_id", id.String(), "name", name)
		if players == nil {
			players = playersOf(dom)
		}
		players.Items = append(players.Items, document.String(name))
		return false
	})
}

func regionsOf(root document.Node) *document.Mapping {
	m, ok := root.(*document.Mapping)
	if !ok {
		return nil
	}
	v, ok := m.Get(KeyRegions)
	if !ok {
		return nil
	}
	regions, _ := v.(*document.Mapping)
	return regions
}

// playersOf returns the domain's players sequence, creating it when absent
// and coercing any other value into a sequence seeded from its contents.
func playersOf(dom *document.Mapping) *document.Sequence {
	v, ok := dom.Get(KeyPlayers)
	if !ok {
		seq := document.NewSequence()
		dom.Set(KeyPlayers, seq)
		return seq
	}

	var seq *document.Sequence
	switch p := v.(type) {
	case *document.Sequence:
		return p
	case *document.Mapping:
		seq = document.NewSequence()
		for _, e := range p.Entries {
			seq.Items = append(seq.Items, e.Key)
		}
	case *document.Scalar:
		seq = document.NewSequence()
		// A lone name is kept as the first player rather than dropped.
		if !p.IsNull() {
			seq.Items = append(seq.Items, p)
		}
	default:
		seq = document.NewSequence()
	}
	dom.Set(KeyPlayers, seq)
	return seq
}

// parseElement reads one unique-ids element. The raw text is returned for
// logging even when parsing fails.
func parseElement(n document.Node) (domain.ProfileID, string, error) {
	s, ok := n.(*document.Scalar)
	if !ok || s.IsNull() {
		return domain.ProfileID{}, describe(n), errors.New("not a string")
	}
	id, err := domain.ParseProfileID(s.Value)
	return id, s.Value, err
}

func describe(n document.Node) string {
	switch v := n.(type) {
	case *document.Scalar:
		return v.Value
	case *document.Sequence:
		return "<sequence>"
	case *document.Mapping:
		return "<mapping>"
	}
	return "<unknown>"
}

func keyString(n document.Node) string {
	if s, ok := n.(*document.Scalar); ok {
		return s.Value
	}
	return describe(n)
}

// collectIDs returns every parseable id under regions, once, in document order.
func collectIDs(regions *document.Mapping) []domain.ProfileID {
	seen := make(map[domain.ProfileID]struct{})
	var ids []domain.ProfileID
	for _, entry := range regions.Entries {
		region, ok := entry.Value.(*document.Mapping)
		if !ok {
			continue
		}
		for _, key := range domainKeys {
			v, _ := region.Get(key)
			dom, ok := v.(*document.Mapping)
			if !ok {
				continue
			}
			raw, _ := dom.Get(KeyUniqueIDs)
			list := newIDList(raw)
			if list == nil {
				continue
			}
			for _, element := range list.elements() {
				id, _, err := parseElement(element)
				if err != nil {
					continue
				}
				if _, dup := seen[id]; !dup {
					seen[id] = struct{}{}
					ids = append(ids, id)
				}
			}
		}
	}
	return ids
}

// nameTable remembers the names found during one Transform so that an id
// repeated across domains is resolved once. Ids without a name are asked for
// again on every occurrence; the resolver decides what it remembers.
type nameTable struct {
	resolver NameResolver
	mu       sync.Mutex
	names    map[domain.ProfileID]string
}

func newNameTable(r NameResolver) *nameTable {
	return &nameTable{resolver: r, names: make(map[domain.ProfileID]string)}
}

func (n *nameTable) resolve(ctx context.Context, id domain.ProfileID) (string, bool) {
	n.mu.Lock()
	name, ok := n.names[id]
	n.mu.Unlock()
	if ok {
		return name, true
	}

	name, found := n.resolver.Resolve(ctx, id)
	if !found {
		return "", false
	}
	n.mu.Lock()
	n.names[id] = name
	n.mu.Unlock()
	return name, true
}

func (n *nameTable) prefetch(ctx context.Context, ids []domain.ProfileID, workers int) {
	var g errgroup.Group
	g.SetLimit(workers)
	for _, id := range ids {
		g.Go(func() error {
			n.resolve(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
}
