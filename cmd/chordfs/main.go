package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/zde37/chordfs/internal/api"
	"github.com/zde37/chordfs/internal/chord"
	"github.com/zde37/chordfs/internal/config"
	"github.com/zde37/chordfs/internal/shell"
	"github.com/zde37/chordfs/internal/transport"
	"github.com/zde37/chordfs/pkg"
)

func main() {
	cfg := config.DefaultConfig()

	// Parse command-line flags
	flag.StringVar(&cfg.Host, "host", cfg.Host, "Host address to bind to")
	flag.IntVar(&cfg.Port, "port", cfg.Port, "Port for Chord gRPC server")
	flag.StringVar(&cfg.NodeID, "id", "", "Explicit decimal node identifier (default: hash of host:port)")
	flag.IntVar(&cfg.HTTPPort, "http-port", cfg.HTTPPort, "Port for HTTP API server (0 disables it)")
	flag.StringVar(&cfg.BootstrapAddress, "bootstrap", "", "Bootstrap node address (host:port) to join existing ring")
	flag.StringVar(&cfg.AuthToken, "auth-token", "", "Shared secret required from peers (empty disables auth)")
	flag.IntVar(&cfg.M, "bits", cfg.M, "Identifier space size in bits")
	flag.DurationVar(&cfg.StabilizeInterval, "stabilize-interval", cfg.StabilizeInterval, "Interval between stabilization rounds")
	flag.DurationVar(&cfg.RPCTimeout, "rpc-timeout", cfg.RPCTimeout, "Timeout for calls to other nodes")
	flag.IntVar(&cfg.MaxLookupHops, "max-hops", cfg.MaxLookupHops, "Delegations before a lookup gives up")
	flag.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "Directory holding one workspace per node")
	flag.StringVar(&cfg.StoreBackend, "store", cfg.StoreBackend, "Local store backend (file, memory)")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (trace, debug, info, warn, error)")
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (json, console)")
	flag.StringVar(&cfg.LogFile, "log-file", "", "Rotated log file (empty logs to stderr)")
	flag.StringVar(&cfg.TraceEndpoint, "trace-endpoint", "", "OTLP/HTTP collector URL, e.g. http://localhost:4318 (empty disables tracing)")
	interactive := flag.Bool("shell", true, "Read commands from stdin")
	noColor := flag.Bool("no-color", false, "Disable coloured shell output")
	flag.Parse()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	id, err := cfg.Identifier()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	loggerConfig := pkg.DefaultConfig()
	loggerConfig.Level = cfg.LogLevel
	loggerConfig.Format = cfg.LogFormat
	if cfg.LogFile != "" {
		loggerConfig.File.Enable = true
		loggerConfig.File.Path = cfg.LogFile
		// keep the terminal for the shell
		loggerConfig.Console.Enable = !*interactive
	}

	logger, err := pkg.New(loggerConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	logger.Info().
		Str("node_id", id.String()).
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Int("http_port", cfg.HTTPPort).
		Int("bits", cfg.M).
		Msg("Starting chordfs node")

	// Tracing
	var tp *sdktrace.TracerProvider
	if cfg.TraceEndpoint != "" {
		tp, err = pkg.NewTracerProvider(context.Background(), cfg.TraceEndpoint, id.String())
		if err != nil {
			logger.Error().Err(err).Msg("Failed to create tracer provider")
			os.Exit(1)
		}
		otel.SetTracerProvider(tp)
		logger.Info().Str("endpoint", cfg.TraceEndpoint).Msg("Exporting traces")
	}

	// Local store
	var opts []chord.Option
	if cfg.StoreBackend == config.StoreFile {
		store, err := pkg.NewFileStorage(cfg.RepositoryDir(id))
		if err != nil {
			logger.Error().Err(err).Msg("Failed to open file storage")
			os.Exit(1)
		}
		opts = append(opts, chord.WithStorage(store))
	}

	// Create gRPC client for inter-node communication
	grpcClient, err := transport.NewGRPCClient(cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create gRPC client")
		os.Exit(1)
	}
	opts = append(opts, chord.WithRemote(grpcClient))

	// Create ChordNode
	node, err := chord.NewChordNode(cfg, logger, opts...)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create Chord node")
		os.Exit(1)
	}

	// Create gRPC server
	grpcServer, err := transport.NewGRPCServer(node, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create gRPC server")
		cleanup(node, nil, grpcClient, nil, tp, logger)
		os.Exit(1)
	}

	// Binding the node's own address is the one fatal startup failure
	if err := grpcServer.Start(); err != nil {
		logger.Error().Err(err).Msg("Failed to start gRPC server")
		cleanup(node, nil, grpcClient, nil, tp, logger)
		os.Exit(1)
	}

	// Create HTTP API server
	var httpServer *api.Server
	if cfg.HTTPPort > 0 {
		httpServer, err = api.NewServer(node, cfg.HTTPPort, logger)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to create HTTP API server")
			cleanup(node, grpcServer, grpcClient, nil, tp, logger)
			os.Exit(1)
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("Failed to start HTTP API server")
			cleanup(node, grpcServer, grpcClient, nil, tp, logger)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Create or join Chord ring
	if cfg.BootstrapAddress != "" {
		joinCtx, cancel := context.WithTimeout(ctx, 4*cfg.RPCTimeout)
		err := node.JoinRing(joinCtx, cfg.BootstrapAddress)
		cancel()
		if err != nil {
			// the node stays up as a ring of one, the shell can retry with join
			logger.Error().Err(err).Str("bootstrap", cfg.BootstrapAddress).Msg("Failed to join Chord ring")
		}
	}

	if err := node.Start(); err != nil {
		logger.Error().Err(err).Msg("Failed to start stabilization")
		cleanup(node, grpcServer, grpcClient, httpServer, tp, logger)
		os.Exit(1)
	}

	logger.Info().Msg("chordfs node is ready")

	left := false
	if *interactive {
		sh, err := shell.New(node, shell.Options{
			WorkDir: cfg.NodeDir(id),
			NoColor: *noColor,
			Logger:  logger,
		})
		if err != nil {
			logger.Error().Err(err).Msg("Failed to create shell")
			cleanup(node, grpcServer, grpcClient, httpServer, tp, logger)
			os.Exit(1)
		}
		if err := sh.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("Shell stopped")
		}
		left = sh.Left()
	} else {
		<-ctx.Done()
	}

	signalled := ctx.Err() != nil
	stop()

	// A signal hands keys over like the leave command, quit keeps them on disk
	if signalled && !left {
		logger.Info().Msg("Received shutdown signal")
		leaveCtx, cancel := context.WithTimeout(context.Background(), 4*cfg.RPCTimeout)
		if err := node.Leave(leaveCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("Failed to hand keys to successor")
		}
		cancel()
	}

	// Cleanup
	cleanup(node, grpcServer, grpcClient, httpServer, tp, logger)

	logger.Info().Msg("chordfs node shutdown complete")
}

// cleanup performs graceful shutdown of all components
func cleanup(node *chord.ChordNode, grpcServer *transport.GRPCServer, grpcClient *transport.GRPCClient, httpServer *api.Server, tp *sdktrace.TracerProvider, logger *pkg.Logger) {
	logger.Info().Msg("Starting graceful shutdown")

	// Stop HTTP server
	if httpServer != nil {
		if err := httpServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping HTTP server")
		}
	}

	// Stop gRPC server
	if grpcServer != nil {
		if err := grpcServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping gRPC server")
		}
	}

	// Shutdown ChordNode, this also closes the local store
	if err := node.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("Error shutting down Chord node")
	}

	// Close gRPC client connections
	if err := grpcClient.Close(); err != nil {
		logger.Error().Err(err).Msg("Error closing gRPC client")
	}

	// Flush pending spans, without hanging on a dead collector
	if tp != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("Error flushing traces")
		}
	}
}
