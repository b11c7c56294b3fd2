package imaging

import (
	"image"
	"image/color"
	"image/draw"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// WatermarkConfig describes an optional per-tier watermark. When Overlay is
// set it is stamped as an image; otherwise Text is rendered with the built-in
// face. Position is one of "top-left", "top-right", "bottom-left",
// "bottom-right" (default "bottom-right").
type WatermarkConfig struct {
	Enabled  bool
	Text     string
	Overlay  image.Image
	Position string
	Padding  int
	Opacity  float64
}

func (w WatermarkConfig) opacityAlpha() uint8 {
	op := w.Opacity
	if op <= 0 || op > 1 {
		op = 1
	}
	return uint8(op * 0xff)
}

// applyWatermark stamps the configured watermark onto dst in place.
func applyWatermark(dst *image.RGBA, cfg WatermarkConfig) {
	if !cfg.Enabled {
		return
	}
	if cfg.Overlay != nil {
		stampOverlay(dst, cfg)
		return
	}
	if strings.TrimSpace(cfg.Text) != "" {
		stampText(dst, cfg)
	}
}

func stampOverlay(dst *image.RGBA, cfg WatermarkConfig) {
	ov := cfg.Overlay
	offset := anchorPoint(dst.Bounds(), ov.Bounds().Dx(), ov.Bounds().Dy(), cfg.Position, cfg.Padding)
	mask := image.NewUniform(color.Alpha{A: cfg.opacityAlpha()})
	rect := image.Rectangle{Min: offset, Max: offset.Add(ov.Bounds().Size())}
	draw.DrawMask(dst, rect, ov, ov.Bounds().Min, mask, image.Point{}, draw.Over)
}

func stampText(dst *image.RGBA, cfg WatermarkConfig) {
	face := basicfont.Face7x13
	width := font.MeasureString(face, cfg.Text).Ceil()
	height := face.Metrics().Height.Ceil()
	offset := anchorPoint(dst.Bounds(), width, height, cfg.Position, cfg.Padding)
	drawer := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: cfg.opacityAlpha()}),
		Face: face,
		Dot: fixed.Point26_6{
			X: fixed.I(offset.X),
			Y: fixed.I(offset.Y + face.Metrics().Ascent.Ceil()),
		},
	}
	drawer.DrawString(cfg.Text)
}

func anchorPoint(bounds image.Rectangle, w, h int, position string, padding int) image.Point {
	if padding < 0 {
		padding = 0
	}
	switch position {
	case "top-left":
		return image.Pt(bounds.Min.X+padding, bounds.Min.Y+padding)
	case "top-right":
		return image.Pt(bounds.Max.X-w-padding, bounds.Min.Y+padding)
	case "bottom-left":
		return image.Pt(bounds.Min.X+padding, bounds.Max.Y-h-padding)
	default: // bottom-right
		return image.Pt(bounds.Max.X-w-padding, bounds.Max.Y-h-padding)
	}
}
