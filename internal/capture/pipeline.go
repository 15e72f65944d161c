package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"os"

	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"

	"maisoku/internal/domain"
	"maisoku/internal/ports"
)

// Config bounds the normalized payload.
type Config struct {
	// MaxSourceBytes caps the raw input before decoding is attempted.
	MaxSourceBytes int
	// MaxPayloadBytes caps the normalized, transmission-ready payload.
	MaxPayloadBytes int
	// MaxDimension caps the longest image side; larger images are downscaled.
	MaxDimension int
	JPEGQuality  int
}

// Pipeline turns camera shots and gallery picks into normalized,
// size-bounded payloads the analysis endpoint accepts.
type Pipeline struct {
	picker ports.GalleryPicker
	cfg    Config
	logger *slog.Logger
}

func NewPipeline(picker ports.GalleryPicker, cfg Config, logger *slog.Logger) *Pipeline {
	if cfg.MaxSourceBytes <= 0 {
		cfg.MaxSourceBytes = 12 << 20
	}
	if cfg.MaxPayloadBytes <= 0 {
		cfg.MaxPayloadBytes = 4 << 20
	}
	if cfg.MaxDimension <= 0 {
		cfg.MaxDimension = 1920
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 85
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pipeline{picker: picker, cfg: cfg, logger: logger}
}

// FromCameraShot captures a frame on the bound hardware and normalizes it.
func (p *Pipeline) FromCameraShot(ctx context.Context, handle ports.CameraHandle) (*domain.NormalizedImage, error) {
	raw, err := handle.Shoot(ctx)
	if err != nil {
		return nil, &domain.CaptureError{Kind: domain.CaptureCorrupt, Detail: err.Error()}
	}
	return p.Normalize(raw, "camera:"+handle.Device())
}

// FromGallery invokes the image-selection surface and normalizes the chosen
// file. A user cancel returns (nil, nil): a no-op, not a failure.
func (p *Pipeline) FromGallery(ctx context.Context) (*domain.NormalizedImage, error) {
	path, ok, err := p.picker.Pick(ctx)
	if err != nil {
		return nil, &domain.CaptureError{Kind: domain.CaptureCorrupt, Detail: fmt.Sprintf("image picker: %v", err)}
	}
	if !ok {
		return nil, nil
	}
	return p.FromFile(path)
}

// FromFile normalizes an image file on disk: gallery picks, reanalysis of a
// prior capture, and direct CLI submissions all land here.
func (p *Pipeline) FromFile(path string) (*domain.NormalizedImage, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &domain.CaptureError{Kind: domain.CaptureCorrupt, Detail: fmt.Sprintf("stat %s: %v", path, err)}
	}
	if info.Size() == 0 {
		return nil, &domain.CaptureError{Kind: domain.CaptureEmpty, Detail: path}
	}
	if info.Size() > int64(p.cfg.MaxSourceBytes) {
		return nil, &domain.CaptureError{
			Kind:   domain.CaptureTooLarge,
			Detail: fmt.Sprintf("%s is %d bytes, cap is %d", path, info.Size(), p.cfg.MaxSourceBytes),
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.CaptureError{Kind: domain.CaptureCorrupt, Detail: fmt.Sprintf("read %s: %v", path, err)}
	}
	return p.Normalize(raw, path)
}

// Normalize decodes raw image bytes, downscales above the dimension cap, and
// re-encodes to JPEG within the payload ceiling. It never emits a truncated
// payload: inputs that cannot fit fail as TooLarge.
func (p *Pipeline) Normalize(raw []byte, sourceRef string) (*domain.NormalizedImage, error) {
	if len(raw) == 0 {
		return nil, &domain.CaptureError{Kind: domain.CaptureEmpty, Detail: sourceRef}
	}
	if len(raw) > p.cfg.MaxSourceBytes {
		return nil, &domain.CaptureError{
			Kind:   domain.CaptureTooLarge,
			Detail: fmt.Sprintf("%d bytes, cap is %d", len(raw), p.cfg.MaxSourceBytes),
		}
	}

	src, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, &domain.CaptureError{Kind: domain.CaptureUnsupportedFormat, Detail: sourceRef}
		}
		return nil, &domain.CaptureError{Kind: domain.CaptureCorrupt, Detail: err.Error()}
	}

	scaled := p.downscale(src)
	bounds := scaled.Bounds()

	// Step quality down until the payload fits; a floor below which we give
	// up keeps garbage out of the request body.
	for _, quality := range []int{p.cfg.JPEGQuality, 70, 55, 40} {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: quality}); err != nil {
			return nil, &domain.CaptureError{Kind: domain.CaptureCorrupt, Detail: fmt.Sprintf("re-encode: %v", err)}
		}
		if buf.Len() <= p.cfg.MaxPayloadBytes {
			p.logger.Debug("image normalized",
				"source", sourceRef,
				"format", format,
				"width", bounds.Dx(),
				"height", bounds.Dy(),
				"bytes", buf.Len(),
				"quality", quality,
			)
			return &domain.NormalizedImage{
				Data:        buf.Bytes(),
				ContentType: "image/jpeg",
				Width:       bounds.Dx(),
				Height:      bounds.Dy(),
				SourceRef:   sourceRef,
			}, nil
		}
	}

	return nil, &domain.CaptureError{
		Kind:   domain.CaptureTooLarge,
		Detail: fmt.Sprintf("image does not fit %d byte payload cap", p.cfg.MaxPayloadBytes),
	}
}

func (p *Pipeline) downscale(src image.Image) image.Image {
	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	longest := max(width, height)
	if longest <= p.cfg.MaxDimension {
		return src
	}

	scale := float64(p.cfg.MaxDimension) / float64(longest)
	dstW := max(int(float64(width)*scale), 1)
	dstH := max(int(float64(height)*scale), 1)

	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	return dst
}
