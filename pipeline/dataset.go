package pipeline

import (
	"context"
	"io"

	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gopjrt/dtypes"
)

// Adapters exposing the pipelines as gomlx train.Dataset implementations, so
// a train.Loop can consume assembled units directly as tensors.

// EpisodeDataset adapts an EpisodePipeline. Yield returns six tensors in
// inputs, mirroring the Episode fields in order: support images
// [n, size, size, 3], support labels [n], support class ids [n], query
// images [m, size, size, 3], query labels [m], query class ids [m]. The
// labels slice repeats the query labels tensor for loops that train on the
// query split.
type EpisodeDataset struct {
	p        *EpisodePipeline
	maxSteps int
	steps    int
}

var _ train.Dataset = &EpisodeDataset{}

// Dataset wraps the pipeline for gomlx training loops.
func (p *EpisodePipeline) Dataset() *EpisodeDataset {
	return &EpisodeDataset{p: p}
}

// WithMaxSteps bounds the stream: Yield returns io.EOF after n episodes.
// 0 keeps the stream infinite. Returns the dataset for chaining.
func (ds *EpisodeDataset) WithMaxSteps(n int) *EpisodeDataset {
	ds.maxSteps = n
	return ds
}

// Name implements train.Dataset.
func (ds *EpisodeDataset) Name() string { return ds.p.Name() }

// Reset implements train.Dataset. Sources are restartable streams, so only
// the step bound resets.
func (ds *EpisodeDataset) Reset() { ds.steps = 0 }

// Yield implements train.Dataset.
func (ds *EpisodeDataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	if ds.maxSteps > 0 && ds.steps >= ds.maxSteps {
		return nil, nil, nil, io.EOF
	}
	ds.steps++
	ep, err := ds.p.Next(context.Background())
	if err != nil {
		return nil, nil, nil, err
	}
	spec = ds
	inputs = []*tensors.Tensor{
		imagesToTensor(ep.SupportImages, ep.ImageSize),
		labelsToTensor(ep.SupportLabels),
		labelsToTensor(ep.SupportClassIDs),
		imagesToTensor(ep.QueryImages, ep.ImageSize),
		labelsToTensor(ep.QueryLabels),
		labelsToTensor(ep.QueryClassIDs),
	}
	labels = []*tensors.Tensor{labelsToTensor(ep.QueryLabels)}
	return
}

// BatchDataset adapts a BatchPipeline: inputs is the images tensor
// [n, size, size, 3], labels the absolute class ids [n].
type BatchDataset struct {
	p        *BatchPipeline
	maxSteps int
	steps    int
}

var _ train.Dataset = &BatchDataset{}

// Dataset wraps the pipeline for gomlx training loops.
func (p *BatchPipeline) Dataset() *BatchDataset {
	return &BatchDataset{p: p}
}

// WithMaxSteps bounds the stream: Yield returns io.EOF after n batches.
// 0 keeps the stream infinite. Returns the dataset for chaining.
func (ds *BatchDataset) WithMaxSteps(n int) *BatchDataset {
	ds.maxSteps = n
	return ds
}

// Name implements train.Dataset.
func (ds *BatchDataset) Name() string { return ds.p.Name() }

// Reset implements train.Dataset.
func (ds *BatchDataset) Reset() { ds.steps = 0 }

// Yield implements train.Dataset.
func (ds *BatchDataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	if ds.maxSteps > 0 && ds.steps >= ds.maxSteps {
		return nil, nil, nil, io.EOF
	}
	ds.steps++
	b, err := ds.p.Next(context.Background())
	if err != nil {
		return nil, nil, nil, err
	}
	spec = ds
	inputs = []*tensors.Tensor{imagesToTensor(b.Images, b.ImageSize)}
	labels = []*tensors.Tensor{labelsToTensor(b.Labels)}
	return
}

// labelsToTensor packs int64 labels or class ids into a [n] tensor.
// tensors.FromValue cannot infer a shape from an empty slice, and a chunk
// with zero real entries is legal, so the empty case builds the zero-length
// tensor explicitly.
func labelsToTensor(labels []int64) *tensors.Tensor {
	if len(labels) == 0 {
		return tensors.FromShape(shapes.Make(dtypes.Int64, 0))
	}
	return tensors.FromValue(labels)
}

// imagesToTensor packs decoded images into a [n, size, size, 3] float32
// tensor.
func imagesToTensor(images [][]float32, size int) *tensors.Tensor {
	stride := size * size * 3
	t := tensors.FromShape(shapes.Make(dtypes.Float32, len(images), size, size, 3))
	t.MutableFlatData(func(flatAny any) {
		flat := flatAny.([]float32)
		for i, img := range images {
			copy(flat[i*stride:(i+1)*stride], img)
		}
	})
	return t
}
