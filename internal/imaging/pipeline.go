package imaging

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"

	_ "image/gif" // register gif
	_ "image/png" // register png

	xdraw "golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"

	"profilehub/internal/util"
	"profilehub/pkg/domain"
	"profilehub/pkg/storage"
)

// TierConfig describes one output resolution tier.
type TierConfig struct {
	MaxWidth  int
	MaxHeight int
	Quality   int
	Watermark WatermarkConfig
}

// Config holds the static pipeline configuration.
type Config struct {
	KeyPrefix string
	Thumbnail TierConfig
	Medium    TierConfig
	High      TierConfig
}

// DefaultConfig mirrors the production tier sizes.
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "profiles",
		Thumbnail: TierConfig{MaxWidth: 320, MaxHeight: 320, Quality: 70},
		Medium:    TierConfig{MaxWidth: 1024, MaxHeight: 1024, Quality: 80},
		High:      TierConfig{MaxWidth: 2048, MaxHeight: 2048, Quality: 90},
	}
}

// Rendered is the blob trio produced for one uploaded image.
type Rendered struct {
	Thumbnail domain.ImageVariant
	Medium    domain.ImageVariant
	High      domain.ImageVariant
}

// Pipeline turns raw image bytes into three persisted resolution tiers.
type Pipeline struct {
	objects storage.ObjectStore
	cfg     Config
}

func NewPipeline(objects storage.ObjectStore, cfg Config) *Pipeline {
	return &Pipeline{objects: objects, cfg: cfg}
}

// ProcessUpload decodes raw bytes, renders the three tiers concurrently and
// uploads each under a fresh shared base key. If any tier fails, tiers already
// uploaded are removed best-effort and the whole call fails.
func (p *Pipeline) ProcessUpload(ctx context.Context, raw []byte) (Rendered, error) {
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return Rendered{}, fmt.Errorf("decode image: %w", err)
	}
	keys := newTierKeys(p.cfg.KeyPrefix, util.NewID())

	tiers := []struct {
		cfg TierConfig
		key string
	}{
		{p.cfg.Thumbnail, keys.Thumbnail},
		{p.cfg.Medium, keys.Medium},
		{p.cfg.High, keys.High},
	}

	variants := make([]domain.ImageVariant, len(tiers))
	uploaded := make([]bool, len(tiers))
	g, gctx := errgroup.WithContext(ctx)
	for i, tier := range tiers {
		g.Go(func() error {
			encoded, err := renderTier(src, tier.cfg)
			if err != nil {
				return fmt.Errorf("render %s: %w", tier.key, err)
			}
			url, err := p.objects.Put(gctx, tier.key, encoded, "image/jpeg")
			if err != nil {
				return err
			}
			uploaded[i] = true
			variants[i] = domain.ImageVariant{
				URL:        url,
				CDNURL:     p.objects.CDNURL(tier.key),
				StorageKey: tier.key,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// A partial tier set is inconsistent; remove whatever made it up.
		for i, ok := range uploaded {
			if !ok {
				continue
			}
			if derr := p.objects.Delete(ctx, tiers[i].key); derr != nil {
				slog.Warn("orphaned tier after failed upload", "key", tiers[i].key, "err", derr)
			}
		}
		return Rendered{}, err
	}
	return Rendered{Thumbnail: variants[0], Medium: variants[1], High: variants[2]}, nil
}

// DeleteResult collects per-key outcomes of a best-effort trio delete.
type DeleteResult struct {
	Deleted []string
	Failed  []string
}

// DeleteImage derives the key trio from the medium key and deletes all three
// blobs. Each delete is attempted independently; failures are collected, not
// fatal.
func (p *Pipeline) DeleteImage(ctx context.Context, mediumKey string) DeleteResult {
	keys, err := KeysFromMedium(mediumKey)
	if err != nil {
		slog.Warn("skip blob delete", "key", mediumKey, "err", err)
		return DeleteResult{Failed: []string{mediumKey}}
	}
	var res DeleteResult
	for _, key := range []string{keys.Thumbnail, keys.Medium, keys.High} {
		if err := p.objects.Delete(ctx, key); err != nil {
			slog.Warn("blob delete failed", "key", key, "err", err)
			res.Failed = append(res.Failed, key)
			continue
		}
		res.Deleted = append(res.Deleted, key)
	}
	return res
}

func renderTier(src image.Image, cfg TierConfig) ([]byte, error) {
	dst := scaleToFit(src, cfg.MaxWidth, cfg.MaxHeight)
	applyWatermark(dst, cfg.Watermark)
	quality := cfg.Quality
	if quality <= 0 {
		quality = 80
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// scaleToFit resizes src to fit within maxW x maxH preserving aspect ratio.
// Images already within bounds are re-rendered at original size.
func scaleToFit(src image.Image, maxW, maxH int) *image.RGBA {
	sb := src.Bounds()
	w, h := sb.Dx(), sb.Dy()
	if maxW > 0 && maxH > 0 && (w > maxW || h > maxH) {
		ratioW := float64(maxW) / float64(w)
		ratioH := float64(maxH) / float64(h)
		ratio := ratioW
		if ratioH < ratio {
			ratio = ratioH
		}
		w = int(float64(w) * ratio)
		h = int(float64(h) * ratio)
		if w < 1 {
			w = 1
		}
		if h < 1 {
			h = 1
		}
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, sb, xdraw.Over, nil)
	return dst
}
