// Command mock-liveness serves the platform liveness API from memory, over
// HTTP and gRPC, for local runs against the policy network.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/prepolicy/prepolicy/core/liveness"
	"github.com/prepolicy/prepolicy/core/policy"
	"github.com/prepolicy/prepolicy/pkg/livenessmock"
	"github.com/prepolicy/prepolicy/pkg/logging"
)

type settings struct {
	HTTPAddr        string
	GRPCAddr        string
	DefaultAlive    bool
	Dead            []string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

func main() {
	s, err := parseSettings(os.Args[1:], os.Getenv, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "mock-liveness: %v\n", err)
		os.Exit(2)
	}

	logging.InitLogger(s.LogLevel, s.LogFormat, nil)
	logger := logging.GetLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, s, logger, nil); err != nil {
		logger.Error("mock-liveness stopped with error", "error", err)
		os.Exit(1)
	}
}

func envOr(getenv func(string) string, key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

// parseSettings reads flags, taking their defaults from MOCK_LIVENESS_* and
// LOG_* environment variables.
func parseSettings(args []string, getenv func(string) string, output io.Writer) (settings, error) {
	var s settings

	defaultAlive := true
	if v := getenv("MOCK_LIVENESS_DEFAULT_ALIVE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return s, fmt.Errorf("invalid MOCK_LIVENESS_DEFAULT_ALIVE %q: %w", v, err)
		}
		defaultAlive = b
	}
	shutdown := 5 * time.Second
	if v := getenv("MOCK_LIVENESS_SHUTDOWN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return s, fmt.Errorf("invalid MOCK_LIVENESS_SHUTDOWN_TIMEOUT %q: %w", v, err)
		}
		shutdown = d
	}

	fs := flag.NewFlagSet("mock-liveness", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&s.HTTPAddr, "http-addr", envOr(getenv, "MOCK_LIVENESS_HTTP_ADDR", "127.0.0.1:3000"), "HTTP listen address")
	fs.StringVar(&s.GRPCAddr, "grpc-addr", envOr(getenv, "MOCK_LIVENESS_GRPC_ADDR", "127.0.0.1:3001"), "gRPC listen address (empty disables gRPC)")
	fs.BoolVar(&s.DefaultAlive, "default-alive", defaultAlive, "Verdict for policies never marked dead")
	dead := fs.String("dead", getenv("MOCK_LIVENESS_DEAD"), "Comma-separated policy ids to report dead at startup")
	fs.StringVar(&s.LogLevel, "log-level", envOr(getenv, "LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	fs.StringVar(&s.LogFormat, "log-format", envOr(getenv, "LOG_FORMAT", "console"), "Log format (console, json)")
	fs.DurationVar(&s.ShutdownTimeout, "shutdown-timeout", shutdown, "Grace period for in-flight requests")
	if err := fs.Parse(args); err != nil {
		return s, err
	}

	if s.HTTPAddr == "" {
		return s, errors.New("http address must not be empty")
	}
	for _, id := range strings.Split(*dead, ",") {
		if id = strings.TrimSpace(id); id != "" {
			s.Dead = append(s.Dead, id)
		}
	}
	return s, nil
}

// run serves until ctx is done, then drains both listeners. ready, if set, is
// called once the listeners are bound; grpcAddr is nil when gRPC is disabled.
func run(ctx context.Context, s settings, logger logging.Logger, ready func(httpAddr, grpcAddr net.Addr)) error {
	svc := livenessmock.NewService(s.DefaultAlive, logger)
	for _, id := range s.Dead {
		svc.MarkDead(policy.ID(id))
	}

	httpLis, err := net.Listen("tcp", s.HTTPAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.HTTPAddr, err)
	}
	server := &http.Server{
		Handler:           svc.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	var (
		grpcLis  net.Listener
		gs       *grpc.Server
		grpcAddr net.Addr
	)
	if s.GRPCAddr != "" {
		grpcLis, err = net.Listen("tcp", s.GRPCAddr)
		if err != nil {
			_ = httpLis.Close()
			return fmt.Errorf("failed to listen on %s: %w", s.GRPCAddr, err)
		}
		gs = grpc.NewServer()
		liveness.RegisterLivenessServer(gs, svc)
		grpcAddr = grpcLis.Addr()
	}

	errCh := make(chan error, 2)
	go func() {
		if err := server.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	if gs != nil {
		go func() {
			if err := gs.Serve(grpcLis); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	logger.Info("mock-liveness listening",
		"http_addr", httpLis.Addr().String(),
		"grpc_enabled", gs != nil,
		"default_alive", s.DefaultAlive,
		"dead", len(s.Dead))
	if ready != nil {
		ready(httpLis.Addr(), grpcAddr)
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal, stopping mock-liveness")
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}
	if gs != nil {
		gs.GracefulStop()
	}
	logger.Info("mock-liveness stopped")
	return runErr
}
