package pipeline

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math/rand"
	"sync/atomic"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
	"k8s.io/klog/v2"

	"github.com/Noofbiz/episodeBowl/records"
)

// DataAugmentation configures optional stochastic perturbation of decoded
// images. A nil *DataAugmentation means no augmentation at all; a zero-valued
// one is a valid configuration with every perturbation switched off.
type DataAugmentation struct {
	// EnableGaussianNoise adds independent per-element Gaussian noise with
	// standard deviation GaussianNoiseStd after rescaling, so output values
	// may leave [-1, 1].
	EnableGaussianNoise bool
	GaussianNoiseStd    float64

	// EnableJitter reflect-pads the image by JitterAmount pixels on height
	// and width and takes a uniformly random crop back to the original
	// size, i.e. translation jitter with a fixed output shape.
	EnableJitter bool
	JitterAmount int
}

// ImageCodec decodes one serialized record into a normalized image: a flat
// float32 buffer of shape (size, size, 3) in row-major (y, x, channel)
// order, values rescaled to [-1, 1]. Decoding is pure per call; augmentation
// draws from a per-call generator so concurrent decodes never share RNG
// state.
type ImageCodec struct {
	size  int
	aug   *DataAugmentation
	seed  int64
	calls atomic.Int64
}

// NewImageCodec validates the augmentation values and logs them once, the
// role naming which images the codec feeds ("support", "query", "batch").
func NewImageCodec(role string, size int, aug *DataAugmentation, seed int64) (*ImageCodec, error) {
	if size <= 0 {
		return nil, configErrorf("image size must be positive, got %d", size)
	}
	if aug != nil {
		if aug.GaussianNoiseStd < 0 {
			return nil, configErrorf("gaussian noise std must be non-negative, got %v", aug.GaussianNoiseStd)
		}
		if aug.JitterAmount < 0 {
			return nil, configErrorf("jitter amount must be non-negative, got %d", aug.JitterAmount)
		}
		if aug.EnableJitter && aug.JitterAmount > size-1 {
			return nil, configErrorf("jitter amount %d exceeds reflect limit for %dpx images", aug.JitterAmount, size)
		}
	}
	logAugmentation(role, aug)
	return &ImageCodec{size: size, aug: aug, seed: seed}, nil
}

func logAugmentation(role string, aug *DataAugmentation) {
	if aug == nil {
		klog.Infof("no data augmentation provided for %s images", role)
		return
	}
	klog.Infof("%s augmentations: jitter=%v amount=%d noise=%v std=%v",
		role, aug.EnableJitter, aug.JitterAmount, aug.EnableGaussianNoise, aug.GaussianNoiseStd)
}

// Size returns the output image side length.
func (c *ImageCodec) Size() int { return c.size }

// Decode parses the record payload, decodes and resizes the image and
// applies the codec's augmentation. The label embedded in the payload is
// ignored; class identity travels on the Record's side channel.
func (c *ImageCodec) Decode(payload []byte) ([]float32, error) {
	ex, err := records.UnmarshalExample(payload)
	if err != nil {
		return nil, decodeErrorf(err, "malformed example payload")
	}
	img, format, err := image.Decode(bytes.NewReader(ex.Image))
	if err != nil {
		return nil, decodeErrorf(err, "undecodable image")
	}
	klog.V(2).Infof("decoded %s image %v", format, img.Bounds().Size())

	px := resizeBilinearAligned(imaging.Clone(img), c.size)
	for i, v := range px {
		px[i] = 2 * (v/255.0 - 0.5)
	}
	if c.aug == nil {
		return px, nil
	}

	rng := rand.New(rand.NewSource(c.seed + c.calls.Add(1)))
	if c.aug.EnableGaussianNoise {
		std := c.aug.GaussianNoiseStd
		for i := range px {
			px[i] += float32(rng.NormFloat64() * std)
		}
	}
	if c.aug.EnableJitter {
		px = reflectJitter(px, c.size, c.aug.JitterAmount, rng)
	}
	return px, nil
}

// resizeBilinearAligned samples the source with bilinear interpolation using
// aligned corners: the first and last rows/columns of source and destination
// coincide exactly, with no half-pixel offset. Returns (size, size, 3)
// float32 values still in [0, 255].
func resizeBilinearAligned(src *image.NRGBA, size int) []float32 {
	bounds := src.Bounds()
	srcW := bounds.Dx()
	srcH := bounds.Dy()

	scaleFor := func(srcDim int) float64 {
		if size <= 1 || srcDim <= 1 {
			return 0
		}
		return float64(srcDim-1) / float64(size-1)
	}
	scaleX := scaleFor(srcW)
	scaleY := scaleFor(srcH)

	at := func(x, y int) (float64, float64, float64) {
		off := src.PixOffset(bounds.Min.X+x, bounds.Min.Y+y)
		return float64(src.Pix[off]), float64(src.Pix[off+1]), float64(src.Pix[off+2])
	}

	out := make([]float32, size*size*3)
	for y := 0; y < size; y++ {
		sy := float64(y) * scaleY
		y0 := int(sy)
		y1 := y0 + 1
		if y1 > srcH-1 {
			y1 = srcH - 1
		}
		fy := sy - float64(y0)
		for x := 0; x < size; x++ {
			sx := float64(x) * scaleX
			x0 := int(sx)
			x1 := x0 + 1
			if x1 > srcW-1 {
				x1 = srcW - 1
			}
			fx := sx - float64(x0)

			r00, g00, b00 := at(x0, y0)
			r10, g10, b10 := at(x1, y0)
			r01, g01, b01 := at(x0, y1)
			r11, g11, b11 := at(x1, y1)

			blend := func(v00, v10, v01, v11 float64) float32 {
				top := v00 + (v10-v00)*fx
				bot := v01 + (v11-v01)*fx
				return float32(top + (bot-top)*fy)
			}
			off := (y*size + x) * 3
			out[off] = blend(r00, r10, r01, r11)
			out[off+1] = blend(g00, g10, g01, g11)
			out[off+2] = blend(b00, b10, b01, b11)
		}
	}
	return out
}

// reflectJitter reflect-pads the (size, size, 3) buffer by j on height and
// width (mirror without repeating the border, TF REFLECT semantics) and
// takes a uniformly random crop back to (size, size, 3).
func reflectJitter(px []float32, size, j int, rng *rand.Rand) []float32 {
	if j == 0 {
		return px
	}
	dy := rng.Intn(2*j+1) - j
	dx := rng.Intn(2*j+1) - j

	reflect := func(i int) int {
		if i < 0 {
			i = -i
		}
		if i > size-1 {
			i = 2*(size-1) - i
		}
		return i
	}

	out := make([]float32, len(px))
	for y := 0; y < size; y++ {
		sy := reflect(y + dy)
		for x := 0; x < size; x++ {
			sx := reflect(x + dx)
			dst := (y*size + x) * 3
			src := (sy*size + sx) * 3
			out[dst] = px[src]
			out[dst+1] = px[src+1]
			out[dst+2] = px[src+2]
		}
	}
	return out
}
