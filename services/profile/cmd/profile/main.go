package main

import (
	"context"
	"image"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"profilehub/internal/identity"
	"profilehub/internal/imaging"
	"profilehub/internal/ratelimit"
	"profilehub/internal/util"
	"profilehub/pkg/queue"
	"profilehub/pkg/storage"
	"profilehub/services/profile/internal/app"
	"profilehub/services/profile/internal/config"
	"profilehub/services/profile/internal/server"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	objects, err := storage.NewMinioStore(storage.MinioConfig{
		Endpoint:   cfg.MinioEndpoint,
		AccessKey:  cfg.MinioAccessKey,
		SecretKey:  cfg.MinioSecretKey,
		Bucket:     cfg.MinioBucket,
		UseSSL:     cfg.MinioUseSSL,
		CDNBaseURL: cfg.CDNBaseURL,
	})
	if err != nil {
		log.Fatalf("failed to init object store: %v", err)
	}
	pipeline := imaging.NewPipeline(objects, imagingConfig(cfg))

	var cleanup *queue.CleanupQueue
	if cfg.RedisAddr != "" {
		cleanup, err = queue.NewCleanupQueue(cfg.RedisAddr, cfg.RedisPassword, cfg.CleanupList)
		if err != nil {
			log.Fatalf("failed to init cleanup queue: %v", err)
		}
	}

	appCfg := app.Config{
		DatabaseURL: cfg.DatabaseURL,
		Pipeline:    pipeline,
	}
	if cleanup != nil {
		appCfg.Cleanup = cleanup
	}
	appCore, err := app.New(appCfg)
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	verifier, err := identity.NewVerifier(identity.Config{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
	})
	if err != nil {
		log.Fatalf("failed to init identity verifier: %v", err)
	}

	var limiter *ratelimit.FixedWindowLimiter
	if cfg.RateLimit > 0 && cfg.RedisAddr != "" {
		window := time.Duration(cfg.RateWindowSec) * time.Second
		if window <= 0 {
			window = time.Minute
		}
		limiter, err = ratelimit.NewFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "profilehub:ratelimit", cfg.RateLimit, window)
		if err != nil {
			log.Fatalf("failed to init rate limiter: %v", err)
		}
	}

	httpServer, err := server.New(server.Config{
		App:            appCore,
		Verifier:       verifier,
		Limiter:        limiter,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	if cleanup != nil {
		go cleanup.Run(context.Background(), objects, time.Minute)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("profile server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}

func imagingConfig(cfg config.FileConfig) imaging.Config {
	out := imaging.DefaultConfig()
	if cfg.ImageKeyPrefix != "" {
		out.KeyPrefix = cfg.ImageKeyPrefix
	}
	applyTier(&out.Thumbnail, cfg.Thumbnail)
	applyTier(&out.Medium, cfg.Medium)
	applyTier(&out.High, cfg.High)
	return out
}

func applyTier(dst *imaging.TierConfig, src config.TierFileConfig) {
	if src.MaxWidth > 0 {
		dst.MaxWidth = src.MaxWidth
	}
	if src.MaxHeight > 0 {
		dst.MaxHeight = src.MaxHeight
	}
	if src.Quality > 0 {
		dst.Quality = src.Quality
	}
	dst.Watermark = imaging.WatermarkConfig{
		Enabled:  src.Watermark.Enabled,
		Text:     src.Watermark.Text,
		Overlay:  loadOverlay(src.Watermark.Image),
		Position: src.Watermark.Position,
		Padding:  src.Watermark.Padding,
		Opacity:  src.Watermark.Opacity,
	}
}

func loadOverlay(path string) image.Image {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("failed to open watermark image: %v", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		log.Fatalf("failed to decode watermark image: %v", err)
	}
	return img
}
