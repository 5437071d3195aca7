package pipeline

import (
	"math/rand"
	"strings"
	"sync"

	"github.com/Noofbiz/episodeBowl/records"

	"github.com/pkg/errors"
)

// EpisodeMultiplexer merges N independent episode sources into one stream.
// Each emitted episode comes from exactly one source, chosen independently
// and uniformly at random per emission; source boundaries are invisible
// downstream. Episode labels are always locally dense, so episodic merging
// never offsets class ids. Sources are treated as infinite/restartable; an
// exhausted source's error passes straight through.
//
// The multiplexer is itself an EpisodeSource and inherits its single-caller
// contract: only the pick is serialized by the mutex, the underlying Next
// call is not, so concurrent callers could interleave reads on one source.
type EpisodeMultiplexer struct {
	sources []records.EpisodeSource

	mu  sync.Mutex
	rng *rand.Rand
}

var _ records.EpisodeSource = &EpisodeMultiplexer{}

// NewEpisodeMultiplexer merges the given sources. At least one is required.
func NewEpisodeMultiplexer(sources []records.EpisodeSource, seed int64) (*EpisodeMultiplexer, error) {
	if len(sources) == 0 {
		return nil, configErrorf("multiplexer needs at least one source")
	}
	return &EpisodeMultiplexer{
		sources: sources,
		rng:     rand.New(rand.NewSource(seed)),
	}, nil
}

// Name implements records.EpisodeSource.
func (m *EpisodeMultiplexer) Name() string {
	names := make([]string, len(m.sources))
	for i, s := range m.sources {
		names[i] = s.Name()
	}
	return strings.Join(names, "+")
}

// Next implements records.EpisodeSource.
func (m *EpisodeMultiplexer) Next() (records.EpisodeRecord, error) {
	m.mu.Lock()
	src := m.sources[m.rng.Intn(len(m.sources))]
	m.mu.Unlock()
	rec, err := src.Next()
	if err != nil {
		return nil, errors.WithMessagef(err, "source %s", src.Name())
	}
	return rec, nil
}

// BatchMultiplexer merges N batch sources the same way, optionally shifting
// each source's class ids by a fixed offset so ids stay unique across
// sources. Offsets are computed once, at construction, as the running total
// of the preceding sources' class counts. No rebalancing happens for unequal
// source sizes; with offsetting enabled the sources must report true class
// counts or downstream labels collide silently.
//
// Same single-caller contract as EpisodeMultiplexer. Offsets are applied to
// the source's returned records in place, which the BatchSource ownership
// contract permits.
type BatchMultiplexer struct {
	sources []records.BatchSource
	offsets []int64

	mu  sync.Mutex
	rng *rand.Rand
}

var _ records.BatchSource = &BatchMultiplexer{}

// NewBatchMultiplexer merges the given sources. addOffset enables the
// per-source class-id offsets; when disabled every offset is zero.
func NewBatchMultiplexer(sources []records.BatchSource, addOffset bool, seed int64) (*BatchMultiplexer, error) {
	if len(sources) == 0 {
		return nil, configErrorf("multiplexer needs at least one source")
	}
	offsets := make([]int64, len(sources))
	if addOffset {
		var running int64
		for i, s := range sources {
			offsets[i] = running
			running += int64(s.NumClasses())
		}
	}
	return &BatchMultiplexer{
		sources: sources,
		offsets: offsets,
		rng:     rand.New(rand.NewSource(seed)),
	}, nil
}

// Name implements records.BatchSource.
func (m *BatchMultiplexer) Name() string {
	names := make([]string, len(m.sources))
	for i, s := range m.sources {
		names[i] = s.Name()
	}
	return strings.Join(names, "+")
}

// NumClasses implements records.BatchSource: the merged label space size.
func (m *BatchMultiplexer) NumClasses() int {
	total := 0
	for _, s := range m.sources {
		total += s.NumClasses()
	}
	return total
}

// Next implements records.BatchSource.
func (m *BatchMultiplexer) Next() ([]records.Record, error) {
	m.mu.Lock()
	i := m.rng.Intn(len(m.sources))
	m.mu.Unlock()
	src := m.sources[i]
	recs, err := src.Next()
	if err != nil {
		return nil, errors.WithMessagef(err, "source %s", src.Name())
	}
	if off := m.offsets[i]; off != 0 {
		for j := range recs {
			recs[j].ClassID += off
		}
	}
	return recs, nil
}
