package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v2"

	"github.com/imbgar/rtsp-viewer/capture"
	"github.com/imbgar/rtsp-viewer/config"
	"github.com/imbgar/rtsp-viewer/logging"
	"github.com/imbgar/rtsp-viewer/process"
	"github.com/imbgar/rtsp-viewer/recording"
	"github.com/imbgar/rtsp-viewer/session"
	"github.com/imbgar/rtsp-viewer/web"

	_ "github.com/mattn/go-sqlite3"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "rtsp-viewer",
		Usage:   "View and record RTSP camera streams",
		Version: version,
		Commands: []*cli.Command{
			serveCommand(),
			versionCommand(),
		},
		// Bare invocation serves with defaults.
		Action: func(c *cli.Context) error {
			return serve(c)
		},
		Flags: serveFlags(),
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func serveFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Value:   "cameras.yaml",
			Usage:   "Path to the camera configuration file",
		},
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "HTTP listen port (overrides config)",
		},
		&cli.StringFlag{
			Name:  "output-dir",
			Usage: "Recording output directory (overrides config)",
		},
		&cli.StringFlag{
			Name:  "db",
			Usage: "Segment database path (overrides config)",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: debug, info, warn, error (overrides config)",
		},
		&cli.StringFlag{
			Name:  "log-dir",
			Usage: "Log directory; empty logs to stderr (overrides config)",
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Start the viewer service",
		Flags:  serveFlags(),
		Action: serve,
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print the version",
		Action: func(c *cli.Context) error {
			fmt.Println(version)
			return nil
		},
	}
}

func serve(c *cli.Context) error {
	configPath := c.String("config")
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	outputDir := c.String("output-dir")
	databasePath := c.String("db")
	listenPort := c.Int("port")
	logLevel := c.String("log-level")
	logDir := c.String("log-dir")
	cfg.Override(config.ConfigOverrides{
		OutputDir:    &outputDir,
		DatabasePath: &databasePath,
		ListenPort:   &listenPort,
		LogLevel:     &logLevel,
		LogDir:       &logDir,
	})

	logger := logging.CreateLogger(logging.LogLevel(cfg.LogLevel), cfg.LogDir, "rtsp-viewer")
	logger.Info("Starting rtsp-viewer",
		"version", version, "cameras", len(cfg.Cameras), "port", cfg.ListenPort)

	database, err := sql.Open("sqlite3", cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	segmentRepo, err := recording.NewSQLiteSegmentRepository(database)
	if err != nil {
		return fmt.Errorf("failed to create segment repository: %w", err)
	}

	registry := session.NewRegistry(cfg.Cameras, session.Options{
		OutputDir:      cfg.OutputDir,
		Stream:         cfg.Stream,
		Recording:      cfg.Recording,
		Audio:          cfg.Audio,
		BackendFactory: capture.NewGoCVBackendFactory(),
		Launcher:       process.NewExecLauncher(),
		Segments:       segmentRepo,
		Probe:          recording.NewFFmpegSegmentProbe(logger),
		Logger:         logger,
	})

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	sessionHandler := web.NewSessionHandler(logger, registry)
	configHandler := web.NewConfigHandler(logger, configPath, registry)
	router := web.NewRouter(sessionHandler, configHandler)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.ListenPort),
		Handler: router,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Server listening", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutting down", "signal", sig.String())
	case err := <-errChan:
		logger.Error("Server failed", "error", err)
		registry.StopAll()
		return err
	}

	// Stop sessions first so every recording segment is finalized before
	// the process exits.
	registry.StopAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server shutdown incomplete", "error", err)
	}

	logger.Info("Shutdown complete")
	return nil
}
