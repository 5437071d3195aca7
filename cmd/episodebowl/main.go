// Command episodebowl streams synthetic data through the assembly pipelines
// and reports what comes out. It exists to smoke-test the library end to end
// and to demonstrate how the four pipeline constructors are wired.
//
// Examples:
//
//	episodebowl -mode episode -sources 3 -units 200
//	episodebowl -mode batch -sources 2 -add-offset -units 500
package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	"github.com/Noofbiz/episodeBowl/pipeline"
	"github.com/Noofbiz/episodeBowl/records"
)

var (
	mode       = flag.String("mode", "episode", "pipeline to run: episode or batch")
	numSources = flag.Int("sources", 2, "number of synthetic sources to merge")
	units      = flag.Int("units", 100, "number of assembled units to pull")
	imageSize  = flag.Int("image-size", 84, "decoded image side length")
	rawSize    = flag.Int("raw-size", 32, "side length of the synthetic source images")
	classes    = flag.Int("classes", 10, "classes per synthetic source")
	batchSize  = flag.Int("batch-size", 16, "examples per flat batch (batch mode)")
	addOffset  = flag.Bool("add-offset", false, "offset class ids per source (batch mode)")
	flushCap   = flag.Int("flush", 4, "flush chunk capacity (episode mode)")
	supportCap = flag.Int("support", 25, "support chunk capacity (episode mode)")
	queryCap   = flag.Int("query", 10, "query chunk capacity (episode mode)")
	jitter     = flag.Int("jitter", 0, "translation jitter amount, 0 disables")
	noiseStd   = flag.Float64("noise-std", 0, "gaussian noise std, 0 disables")
	seed       = flag.Int64("seed", 1, "base RNG seed")
)

type fixedSampler struct {
	chunks records.ChunkSizes
}

func (s fixedSampler) ChunkSizes() records.ChunkSizes { return s.chunks }

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	var aug *pipeline.DataAugmentation
	if *jitter > 0 || *noiseStd > 0 {
		aug = &pipeline.DataAugmentation{
			EnableGaussianNoise: *noiseStd > 0,
			GaussianNoiseStd:    *noiseStd,
			EnableJitter:        *jitter > 0,
			JitterAmount:        *jitter,
		}
	}

	switch *mode {
	case "episode":
		runEpisodes(aug)
	case "batch":
		runBatches(aug)
	default:
		log.Fatalf("unknown mode %q, want episode or batch", *mode)
	}
}

func runEpisodes(aug *pipeline.DataAugmentation) {
	chunks := records.ChunkSizes{Flush: *flushCap, Support: *supportCap, Query: *queryCap}
	factories := make([]pipeline.EpisodeSourceFactory, *numSources)
	for i := range factories {
		name := fmt.Sprintf("synthetic-%d", i)
		srcSeed := *seed + int64(i)
		factories[i] = func(pipeline.ReaderConfig) (records.EpisodeSource, error) {
			return records.NewSyntheticEpisodeSource(name, chunks, *classes, *rawSize, srcSeed), nil
		}
	}

	opts := pipeline.EpisodeOptions{
		Options:             pipeline.Options{ImageSize: *imageSize, Split: "train", Seed: *seed},
		SupportAugmentation: aug,
		QueryAugmentation:   aug,
	}
	p, err := pipeline.NewMultiSourceEpisodePipeline(factories, fixedSampler{chunks}, opts)
	if err != nil {
		log.Fatalf("failed to build episode pipeline: %v", err)
	}
	defer p.Close()

	bar := progressbar.NewOptions(*units,
		progressbar.OptionSetDescription("episodes"),
		progressbar.OptionShowIts(),
	)
	minWays, maxWays := *classes+1, 0
	totalSupport, totalQuery := 0, 0
	for i := 0; i < *units; i++ {
		ep, err := p.Next(context.Background())
		if err != nil {
			log.Fatalf("episode %d failed: %v", i, err)
		}
		ways := distinct(ep.SupportLabels)
		if ways < minWays {
			minWays = ways
		}
		if ways > maxWays {
			maxWays = ways
		}
		totalSupport += len(ep.SupportImages)
		totalQuery += len(ep.QueryImages)
		_ = bar.Add(1)
	}
	fmt.Println()
	fmt.Printf("pipeline %s: %d episodes, ways %d..%d, avg support %.1f, avg query %.1f\n",
		p.Name(), *units, minWays, maxWays,
		float64(totalSupport)/float64(*units), float64(totalQuery)/float64(*units))
}

func runBatches(aug *pipeline.DataAugmentation) {
	factories := make([]pipeline.BatchSourceFactory, *numSources)
	for i := range factories {
		name := fmt.Sprintf("synthetic-%d", i)
		srcSeed := *seed + int64(i)
		factories[i] = func(cfg pipeline.ReaderConfig) (records.BatchSource, error) {
			return records.NewSyntheticBatchSource(name, cfg.BatchSize, *classes, *rawSize, srcSeed), nil
		}
	}

	opts := pipeline.BatchOptions{
		Options:          pipeline.Options{ImageSize: *imageSize, Split: "train", Seed: *seed},
		BatchSize:        *batchSize,
		Augmentation:     aug,
		AddDatasetOffset: *addOffset,
	}
	p, err := pipeline.NewMultiSourceBatchPipeline(factories, opts)
	if err != nil {
		log.Fatalf("failed to build batch pipeline: %v", err)
	}
	defer p.Close()

	bar := progressbar.NewOptions(*units,
		progressbar.OptionSetDescription("batches"),
		progressbar.OptionShowIts(),
	)
	var minLabel, maxLabel int64 = 1<<62 - 1, -1
	for i := 0; i < *units; i++ {
		b, err := p.Next(context.Background())
		if err != nil {
			log.Fatalf("batch %d failed: %v", i, err)
		}
		for _, l := range b.Labels {
			if l < minLabel {
				minLabel = l
			}
			if l > maxLabel {
				maxLabel = l
			}
		}
		_ = bar.Add(1)
	}
	fmt.Println()
	fmt.Printf("pipeline %s: %d batches of %d, labels in [%d, %d]\n",
		p.Name(), *units, *batchSize, minLabel, maxLabel)
}

func distinct(labels []int64) int {
	seen := make(map[int64]struct{}, len(labels))
	for _, l := range labels {
		seen[l] = struct{}{}
	}
	return len(seen)
}
