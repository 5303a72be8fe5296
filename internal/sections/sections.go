package sections

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tannerhall/briefd/internal/config"
	"github.com/tannerhall/briefd/internal/ops"
)

// Source declares one independent producer of a briefing section.
// Fetch runs concurrently with every other source; its failure degrades
// that section only and never disturbs siblings.
type Source struct {
	Key   string
	Order int // Display order in the composite briefing (lower numbers first)
	Fetch FetchFunc
}

// FetchFunc produces a section. Returning (nil, nil) means the source is
// not applicable right now (e.g. unauthenticated) and is omitted.
type FetchFunc func(ctx context.Context) (*Result, error)

// Result is one rendered section of the composite briefing
type Result struct {
	Key   string
	Order int
	Text  string
}

// Snapshot is the ordered composite of all settled sections. It is built
// fresh on every Compose call and never mutated afterwards.
type Snapshot struct {
	Sections []Result
}

// Render joins the sections with the given separator
func (s Snapshot) Render(separator string) string {
	parts := make([]string, 0, len(s.Sections))
	for _, section := range s.Sections {
		parts = append(parts, section.Text)
	}
	return strings.Join(parts, separator)
}

// Composer fans out to declared sources and merges their results
type Composer struct {
	separator string
	logger    *ops.Logger
}

// NewComposer creates a composer using the configured separator
func NewComposer(cfg *config.Compose, logger *ops.Logger) *Composer {
	return &Composer{
		separator: cfg.Separator,
		logger:    logger.WithComponent("sections"),
	}
}

// Separator returns the configured section separator
func (c *Composer) Separator() string {
	return c.separator
}

// Compose launches every source concurrently, waits for all of them to
// settle, and returns the sections sorted strictly by declared order.
// A source that returns an error (or panics) contributes a labeled
// fallback section instead of failing the whole call. Section order is a
// pure function of the declared Order values, never of completion timing.
func (c *Composer) Compose(ctx context.Context, sources []Source) Snapshot {
	results := make([]*Result, len(sources))

	var wg sync.WaitGroup
	for i, source := range sources {
		wg.Add(1)
		go func(i int, source Source) {
			defer wg.Done()
			results[i] = c.settle(ctx, source)
		}(i, source)
	}
	wg.Wait()

	sections := make([]Result, 0, len(sources))
	for _, result := range results {
		if result != nil {
			sections = append(sections, *result)
		}
	}

	sort.Slice(sections, func(i, j int) bool {
		if sections[i].Order != sections[j].Order {
			return sections[i].Order < sections[j].Order
		}
		// Stable tiebreak so equal orders are still deterministic
		return sections[i].Key < sections[j].Key
	})

	return Snapshot{Sections: sections}
}

// settle runs a single source to completion, converting errors and panics
// into a fallback section for that key only.
func (c *Composer) settle(ctx context.Context, source Source) (result *Result) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err := fmt.Errorf("panic: %v", recovered)
			c.logger.LogSectionFallback(source.Key, err)
			result = c.fallback(source, err)
		}
	}()

	fetched, err := source.Fetch(ctx)
	if err != nil {
		c.logger.LogSectionFallback(source.Key, err)
		return c.fallback(source, err)
	}

	if fetched == nil {
		// Not applicable; omit from the snapshot
		return nil
	}

	return &Result{
		Key:   source.Key,
		Order: source.Order,
		Text:  fetched.Text,
	}
}

func (c *Composer) fallback(source Source, err error) *Result {
	return &Result{
		Key:   source.Key,
		Order: source.Order,
		Text:  fmt.Sprintf("%s: unable to fetch data (%v)", source.Key, err),
	}
}

// FromConfig binds declared section definitions to their fetchers.
// A declared section with no registered fetcher yields a source that
// reports not-applicable, so an unconfigured collaborator simply drops
// out of the briefing.
func FromConfig(defs []config.SectionConfig, fetchers map[string]FetchFunc) []Source {
	sources := make([]Source, 0, len(defs))
	for _, def := range defs {
		fetch, ok := fetchers[def.Key]
		if !ok {
			fetch = func(ctx context.Context) (*Result, error) {
				return nil, nil
			}
		}
		sources = append(sources, Source{
			Key:   def.Key,
			Order: def.Order,
			Fetch: fetch,
		})
	}
	return sources
}
