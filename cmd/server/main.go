package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/cartridge/reverb/internal/checkpoint"
	"github.com/cartridge/reverb/internal/chunkstore"
	"github.com/cartridge/reverb/internal/config"
	"github.com/cartridge/reverb/internal/service"
	"github.com/cartridge/reverb/internal/table"
	"github.com/cartridge/reverb/internal/table/memtable"
	replayv1 "github.com/cartridge/reverb/pkg/proto/replayv1"
)

var (
	port            int
	tableNames      []string
	tableMaxSize    int64
	checkpointDir   string
	fallbackDir     string
	maxResponseSize int
	logLevel        string
)

var rootCmd = &cobra.Command{
	Use:   "reverb-server",
	Short: "Replay buffer RPC service",
	Long: `reverb-server hosts one or more named prioritized experience-replay
tables, accepts streamed insertions of trajectory chunks and items, and
serves streamed prioritized samples back to clients subject to a rate
limiter.`,
	RunE: runServer,
}

func init() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	rootCmd.Flags().IntVar(&port, "port", 8080, "gRPC server port")
	rootCmd.Flags().StringSliceVar(&tableNames, "tables", []string{"default"}, "comma-separated table names to host")
	rootCmd.Flags().Int64Var(&tableMaxSize, "table-max-size", 0, "maximum items per table (0 = unbounded)")
	rootCmd.Flags().StringVar(&checkpointDir, "checkpoint-dir", cfg.Checkpoint.Dir, "directory checkpoints are written to and loaded from")
	rootCmd.Flags().StringVar(&fallbackDir, "fallback-checkpoint-dir", cfg.Checkpoint.FallbackDir, "fallback directory consulted when checkpoint-dir is empty")
	rootCmd.Flags().IntVar(&maxResponseSize, "max-sample-response-bytes", cfg.Limits.MaxSampleResponseBytes, "maximum bytes per SampleStream response frame")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	viper.BindPFlags(rootCmd.Flags())
	viper.SetEnvPrefix("REVERB")
	viper.AutomaticEnv()
}

func runServer(cmd *cobra.Command, args []string) error {
	level, err := zerolog.ParseLevel(strings.ToLower(logLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().
		Timestamp().
		Str("service", "reverb").
		Logger()
	log.Logger = logger

	store := chunkstore.New(logger)
	defer store.Close()

	var checkpointer checkpoint.Checkpointer
	if checkpointDir != "" {
		checkpointer = checkpoint.NewFileCheckpointer(checkpointDir, fallbackDir, logger)
	}

	svc := service.New(store, checkpointer, maxResponseSize, logger)

	tables := make([]table.Table, 0, len(tableNames))
	for _, name := range tableNames {
		var opts []memtable.Option
		if tableMaxSize > 0 {
			opts = append(opts, memtable.WithMaxSize(tableMaxSize))
		}
		tables = append(tables, memtable.New(name, opts...))
	}

	if err := svc.Initialize(tables); err != nil {
		return fmt.Errorf("initialize service: %w", err)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing service")
		}
	}()

	server := grpc.NewServer(
		grpc.UnaryInterceptor(loggingInterceptor(logger)),
	)
	replayv1.RegisterReplayServer(server, svc)
	reflection.Register(server)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	go func() {
		logger.Info().Str("addr", lis.Addr().String()).Msg("reverb server listening")
		if err := server.Serve(lis); err != nil {
			logger.Error().Err(err).Msg("server exited")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutdown signal received, stopping gracefully")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-ctx.Done():
		logger.Warn().Msg("shutdown timeout exceeded, forcing stop")
		server.Stop()
	case <-stopped:
		logger.Info().Msg("server stopped gracefully")
	}

	return nil
}

func loggingInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		evt := logger.Info()
		if err != nil {
			evt = logger.Error().Err(err)
		}
		evt.Str("method", info.FullMethod).Dur("latency", time.Since(start)).Msg("handled unary rpc")
		return resp, err
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
