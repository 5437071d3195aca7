package records

import (
	"bytes"
	"encoding/gob"

	"github.com/pkg/errors"
)

// This package holds the data model shared between the external readers and
// the assembly pipelines, plus the interfaces those readers and samplers are
// expected to implement.
//
// A reader produces either a flat stream of Records (batch training) or a
// stream of EpisodeRecords (episodic few-shot training). Episode streams are
// produced in a fixed-shape layout: every EpisodeRecord has exactly
// Flush+Support+Query slots, and each of the support and query chunks is
// padded at the tail with dummy slots (negative ClassID) up to its capacity.
// The flush chunk is throwaway carry-over from the reader's interleaving and
// is never inspected.

// Record is one serialized example plus the class it belongs to. The payload
// is opaque to everything except the image codec. ClassID is absolute with
// respect to the originating dataset; a negative ClassID marks a padding
// (dummy) slot in an EpisodeRecord.
type Record struct {
	Payload []byte
	ClassID int64
}

// IsDummy reports whether the record is a padding slot.
func (r Record) IsDummy() bool { return r.ClassID < 0 }

// EpisodeRecord is one fixed-length padded episode as produced by an episode
// reader: flush slots, then support slots, then query slots.
type EpisodeRecord []Record

// ChunkSizes gives the capacities of the three chunks of an EpisodeRecord.
// They are fixed per sampler configuration for the lifetime of a pipeline.
type ChunkSizes struct {
	Flush   int
	Support int
	Query   int
}

// Total returns the number of slots in one EpisodeRecord.
func (c ChunkSizes) Total() int { return c.Flush + c.Support + c.Query }

// Example is the serialized payload carried inside Record.Payload, encoded
// with encoding/gob. Image holds an encoded image (JPEG, PNG, GIF, WebP or
// BMP). Label duplicates the class for self-contained files; the pipelines
// ignore it and use the Record's side-channel ClassID instead.
type Example struct {
	Image []byte
	Label int64
}

// Marshal encodes the example with gob.
func (e *Example) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, errors.Wrap(err, "failed to encode example")
	}
	return buf.Bytes(), nil
}

// UnmarshalExample decodes a gob-encoded Example payload.
func UnmarshalExample(payload []byte) (*Example, error) {
	var e Example
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&e); err != nil {
		return nil, errors.Wrap(err, "failed to decode example")
	}
	return &e, nil
}

// EpisodeSource is the reader collaborator for episodic pipelines: a
// restartable, effectively infinite stream of padded episodes. Next may
// return io.EOF for finite sources; the pipeline passes it through.
//
// Implementations need not support concurrent Next calls: every pipeline
// drives its source from a single producer goroutine. Ownership of the
// returned EpisodeRecord transfers to the caller.
type EpisodeSource interface {
	Name() string
	Next() (EpisodeRecord, error)
}

// BatchSource is the reader collaborator for batch pipelines: a restartable
// stream of flat record batches (no padding, every entry real). NumClasses
// reports how many classes the source's split contains, which the
// multi-source batch pipeline needs to compute label offsets.
//
// The same single-caller contract as EpisodeSource applies, and the returned
// slice transfers to the caller, which may modify it in place (the
// multi-source pipeline rewrites ClassIDs when offsetting). Sources must not
// retain or reuse the backing array.
type BatchSource interface {
	Name() string
	Next() ([]Record, error)
	NumClasses() int
}

// EpisodeSampler is the sampler collaborator. The sampler decides how many
// classes and examples per class an episode gets; all this core consumes is
// the resulting chunk capacities.
type EpisodeSampler interface {
	ChunkSizes() ChunkSizes
}
