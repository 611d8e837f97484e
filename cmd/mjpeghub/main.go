package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"image"
	"image/color"
	"image/jpeg"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mjpeghub/configs"
	"mjpeghub/internal/metrics"
	"mjpeghub/internal/stream"
	"mjpeghub/server"
)

var (
	configFile = flag.String("config", "configs/config.yaml", "path to the configuration file")
	addr       = flag.String("addr", "", "stream listener address, overrides the config file")
)

func main() {
	flag.Parse()

	cfg, err := configs.LoadConfig(*configFile)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	logLevel := configs.ParseLogLevel(cfg.Log.Level)
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))

	metrics.Default()

	srv, err := server.New(&cfg)
	if err != nil {
		slog.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	genCtx, stopGen := context.WithCancel(context.Background())
	defer stopGen()
	if !cfg.Source.Enabled {
		// No external feed configured; generate one so the stream has
		// something to show.
		go runTestPattern(genCtx, srv.Publisher())
	}

	go func() {
		if err := srv.Serve(); err != nil {
			slog.Error("serve failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("signal received, shutting down")

	stopGen()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown failed", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

// runTestPattern publishes a moving gradient at ~10 fps. Frames are dropped
// while the publisher is backlogged: for live video a stale frame is worth
// less than the next one.
func runTestPattern(ctx context.Context, pub *stream.Publisher) {
	const (
		width  = 320
		height = 240
		fps    = 10
	)

	ticker := time.NewTicker(time.Second / fps)
	defer ticker.Stop()

	var buf bytes.Buffer
	phase := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if pub.Backlogged() {
			continue
		}

		img := image.NewGray(image.Rect(0, 0, width, height))
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				img.SetGray(x, y, color.Gray{Y: uint8(x + y + phase)})
			}
		}
		phase += 8

		buf.Reset()
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
			slog.Error("test pattern encode failed", "error", err)
			continue
		}

		jpegBytes := make([]byte, buf.Len())
		copy(jpegBytes, buf.Bytes())

		switch err := pub.TryPublish(jpegBytes); {
		case err == nil:
		case errors.Is(err, stream.ErrRelayFull):
			slog.Debug("test pattern frame dropped, publisher backlogged")
		case errors.Is(err, stream.ErrRelayClosed):
			slog.Info("publisher closed, stopping test pattern")
			return
		}
	}
}
