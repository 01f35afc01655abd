package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/dudu/swapstream/internal/api"
	"github.com/dudu/swapstream/internal/config"
	"github.com/dudu/swapstream/internal/detector"
	"github.com/dudu/swapstream/internal/inference"
	"github.com/dudu/swapstream/internal/jobs"
	"github.com/dudu/swapstream/internal/reference"
	"github.com/dudu/swapstream/internal/stream"
	"github.com/dudu/swapstream/internal/swapper"
)

const (
	confThreshold = 0.5
	nmsThreshold  = 0.4
	blendBlurSize = 31
)

func main() {
	godotenv.Load()

	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	cfg := config.Load()

	if err := run(log, cfg); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run(log zerolog.Logger, cfg *config.Config) error {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to prepare data directory: %w", err)
	}

	log.Info().Str("backend", cfg.Backend).Msg("loading models")
	if err := inference.Initialize(cfg.OrtLibraryPath, inference.Backend(cfg.Backend)); err != nil {
		return err
	}
	defer inference.Shutdown()

	locator, err := buildAnalyzer(log, cfg)
	if err != nil {
		return err
	}
	defer locator.Close()

	engine, err := buildEngine(log, cfg)
	if err != nil {
		return err
	}
	defer engine.Close()
	log.Info().Msg("models loaded")

	store := reference.NewStore(log, locator)
	runner := jobs.NewVideoRunner(log, store, locator, engine, cfg.DetectCadence)
	manager := jobs.NewManager(log, store, cfg.DataDir, cfg.MaxConcurrentJobs, runner)
	streamHandler := stream.NewHandler(log, store, locator, engine, cfg.DetectCadence, cfg.DrainWait)

	handler := api.NewHandler(log, store, manager, streamHandler, cfg.AllowedOrigins)
	srv := &http.Server{
		Addr:    cfg.Port,
		Handler: api.NewRouter(handler),
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Port).Msg("server listening")
		errc <- srv.ListenAndServe()
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-sigc:
		log.Info().Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}

// buildAnalyzer loads the detection stack: SCRFD boxes, 106-point landmarks
// when the model is present, and ArcFace embeddings.
func buildAnalyzer(log zerolog.Logger, cfg *config.Config) (*detector.Analyzer, error) {
	scrfd, err := detector.NewSCRFD(log,
		filepath.Join(cfg.ModelDir, "scrfd_10g.onnx"),
		cfg.DetectionSize, confThreshold, nmsThreshold)
	if err != nil {
		return nil, fmt.Errorf("failed to create detector: %w", err)
	}

	var landmarks *detector.Landmark106
	lmPath := filepath.Join(cfg.ModelDir, "2d106det.onnx")
	if _, statErr := os.Stat(lmPath); statErr == nil {
		landmarks, err = detector.NewLandmark106(log, lmPath)
		if err != nil {
			scrfd.Close()
			return nil, fmt.Errorf("failed to create landmark detector: %w", err)
		}
	}

	encoder, err := swapper.NewArcFaceEncoder(log, filepath.Join(cfg.ModelDir, "arcface.onnx"))
	if err != nil {
		scrfd.Close()
		if landmarks != nil {
			landmarks.Close()
		}
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	return detector.NewAnalyzer(log, scrfd, landmarks, encoder), nil
}

// buildEngine creates the swap engine around the configured generator
func buildEngine(log zerolog.Logger, cfg *config.Config) (*swapper.Engine, error) {
	var generator swapper.Generator
	var err error

	switch cfg.SwapModel {
	case "simswap512":
		generator, err = swapper.NewSimSwap512(log, filepath.Join(cfg.ModelDir, "simswap_512.onnx"))
	default:
		emapPath := filepath.Join(cfg.ModelDir, "emap.bin")
		if _, statErr := os.Stat(emapPath); statErr != nil {
			emapPath = ""
		}
		generator, err = swapper.NewInswapper(log, filepath.Join(cfg.ModelDir, "inswapper_128.onnx"), emapPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create generator: %w", err)
	}

	return swapper.NewEngine(generator, blendBlurSize), nil
}
