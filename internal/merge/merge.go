// Package merge stitches a unit's page images into one tall image.
package merge

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif" // decoder
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // decoder

	"github.com/JakeFAU/madara-crawler/internal/crawler"
)

// ErrNoImages is returned when none of the inputs could be decoded.
var ErrNoImages = errors.New("no decodable images")

// maxPixels bounds the canvas so a hostile page list cannot exhaust memory.
const maxPixels = 400_000_000

// Options tune the encoder.
type Options struct {
	JPEGQuality int
}

// Merger implements crawler.PostProcessor on local files.
type Merger struct {
	opts   Options
	logger *zap.Logger
}

var _ crawler.PostProcessor = (*Merger)(nil)

// New builds a Merger.
func New(opts Options, logger *zap.Logger) *Merger {
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = 85
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Merger{opts: opts, logger: logger}
}

type page struct {
	path string
	img  image.Image
}

// Merge decodes paths in order, centers each one on a white canvas as wide as
// the widest page, and writes stem plus the extension of the format actually
// used. Pages that fail to decode are skipped. AVIF and WebP have no encoder
// here and fall back to PNG.
func (m *Merger) Merge(ctx context.Context, paths []string, stem, format string) (string, error) {
	if len(paths) == 0 {
		return "", ErrNoImages
	}
	format = m.resolveFormat(format)

	// Headers first: the canvas bound is enforced before any pixel data is
	// allocated.
	sized := make([]string, 0, len(paths))
	width, height := 0, 0
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		cfg, err := decodeConfigFile(p)
		if err != nil {
			m.logger.Warn("skipping undecodable page", zap.String("path", p), zap.Error(err))
			continue
		}
		width = max(width, cfg.Width)
		height += cfg.Height
		if int64(width)*int64(height) > maxPixels {
			return "", fmt.Errorf("merged canvas %dx%d exceeds %d pixels", width, height, maxPixels)
		}
		sized = append(sized, p)
	}

	pages := make([]page, 0, len(sized))
	width, height = 0, 0
	for _, p := range sized {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		img, err := decodeFile(p)
		if err != nil {
			m.logger.Warn("skipping undecodable page", zap.String("path", p), zap.Error(err))
			continue
		}
		b := img.Bounds()
		width = max(width, b.Dx())
		height += b.Dy()
		pages = append(pages, page{path: p, img: img})
	}
	if len(pages) == 0 {
		return "", ErrNoImages
	}

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	y := 0
	for _, pg := range pages {
		b := pg.img.Bounds()
		x := (width - b.Dx()) / 2
		dst := image.Rect(x, y, x+b.Dx(), y+b.Dy())
		draw.Draw(canvas, dst, pg.img, b.Min, draw.Over)
		y += b.Dy()
	}

	out := stem + "." + format
	if err := m.write(out, canvas, format); err != nil {
		return "", err
	}
	m.logger.Debug("pages merged",
		zap.Int("pages", len(pages)),
		zap.Int("skipped", len(paths)-len(pages)),
		zap.String("output", out))
	return out, nil
}

func (m *Merger) resolveFormat(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "jpeg", "jpg":
		return "jpg"
	case "png", "":
		return "png"
	default:
		m.logger.Warn("no encoder for merge format, writing png", zap.String("format", format))
		return "png"
	}
}

func (m *Merger) write(out string, img image.Image, format string) (err error) {
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return fmt.Errorf("create merge dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(out), ".merge-*")
	if err != nil {
		return fmt.Errorf("create merge temp: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	switch format {
	case "jpg":
		err = jpeg.Encode(tmp, img, &jpeg.Options{Quality: m.opts.JPEGQuality})
	default:
		err = png.Encode(tmp, img)
	}
	if err != nil {
		return fmt.Errorf("encode merged image: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close merged image: %w", err)
	}
	if err = os.Rename(tmp.Name(), out); err != nil {
		return fmt.Errorf("rename merged image: %w", err)
	}
	return nil
}

func decodeConfigFile(path string) (image.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return image.Config{}, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return image.Config{}, fmt.Errorf("decode header %s: %w", filepath.Base(path), err)
	}
	return cfg, nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}
