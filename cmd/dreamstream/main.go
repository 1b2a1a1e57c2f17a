package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/driftlabs/dreamstream/internal/capture"
	"github.com/driftlabs/dreamstream/internal/config"
	"github.com/driftlabs/dreamstream/internal/session"
	"github.com/driftlabs/dreamstream/internal/signaling"
	"github.com/driftlabs/dreamstream/internal/stunserver"
)

// Application holds all components of the streaming client.
type Application struct {
	config  *config.Config
	logger  *zap.Logger
	client  *signaling.Client
	camera  *capture.CameraSource
	stun    *stunserver.Server
	session *session.Session
}

func main() {
	cfg := config.NewDefaultConfig()

	configPath := flag.String("config", "", "path to a YAML config file")
	useCamera := flag.Bool("camera", false, "stream the local camera as the input track")
	debug := flag.Bool("debug", false, "enable debug logging")
	baseURL := flag.String("base-url", cfg.BaseURL, "backend signaling endpoint")
	pipelineID := flag.String("pipeline", cfg.Pipeline.PipelineID, "pipeline identifier to load")
	flag.Parse()

	logger, err := newLogger(*debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if *configPath != "" {
		if err := cfg.LoadFile(*configPath); err != nil {
			logger.Fatal("failed to load config file", zap.Error(err))
		}
	}
	applyFlagOverrides(flag.CommandLine, cfg, baseURL, pipelineID)

	app, err := NewApplication(cfg, logger, *useCamera)
	if err != nil {
		logger.Fatal("failed to create application", zap.Error(err))
	}
	defer app.Cleanup()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx); err != nil {
		logger.Fatal("client exited", zap.Error(err))
	}
}

// applyFlagOverrides re-applies flags the user set explicitly, so they win
// over values loaded from the config file.
func applyFlagOverrides(fs *flag.FlagSet, cfg *config.Config, baseURL, pipelineID *string) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "base-url":
			cfg.BaseURL = *baseURL
		case "pipeline":
			cfg.Pipeline.PipelineID = *pipelineID
		}
	})
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func NewApplication(cfg *config.Config, logger *zap.Logger, useCamera bool) (*Application, error) {
	client, err := signaling.NewClient(cfg.BaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create signaling client: %w", err)
	}

	app := &Application{
		config: cfg,
		logger: logger,
		client: client,
	}

	if useCamera {
		camera, err := capture.NewCameraSource(
			cfg.Pipeline.LoadParams.Width,
			cfg.Pipeline.LoadParams.Height,
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to open camera: %w", err)
		}
		app.camera = camera
	}

	if cfg.LocalSTUNPort > 0 {
		stun, err := stunserver.New(cfg.LocalSTUNIP, cfg.LocalSTUNPort, logger)
		if err != nil {
			app.Cleanup()
			return nil, fmt.Errorf("failed to create STUN server: %w", err)
		}
		app.stun = stun
	}

	return app, nil
}

// Run starts the session and blocks until the context is cancelled.
func (app *Application) Run(ctx context.Context) error {
	opts := session.Options{
		Logger: app.logger,
		Sink:   &frameStatsSink{logger: app.logger.Named("sink")},
		OnStateChange: func(state session.State) {
			app.logger.Info("state", zap.Stringer("state", state))
		},
	}
	if app.camera != nil {
		opts.Source = app.camera
	}

	if app.stun != nil {
		if err := app.stun.Start(ctx); err != nil {
			return err
		}
		opts.ExtraIceServers = []webrtc.ICEServer{{URLs: []string{app.stun.URL()}}}
	}

	sess, err := session.New(app.config, app.client, opts)
	if err != nil {
		return err
	}
	app.session = sess

	if err := sess.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	app.logger.Info("shutting down")
	sess.Stop()

	stats := sess.Stats()
	app.logger.Info("final relay stats",
		zap.Int64("received", stats.FramesReceived),
		zap.Int64("relayed", stats.FramesRelayed),
		zap.Int64("dropped", stats.FramesDropped))
	return nil
}

func (app *Application) Cleanup() {
	if app.session != nil {
		app.session.Stop()
	}
	if app.stun != nil {
		if err := app.stun.Stop(); err != nil {
			app.logger.Warn("failed to stop STUN server", zap.Error(err))
		}
	}
	if app.camera != nil {
		app.camera.Close()
	}
}
