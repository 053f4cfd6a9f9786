package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/germanamz/mcpgate/pkg/gateconfig"
	"github.com/germanamz/mcpgate/pkg/proxy"
	"github.com/germanamz/mcpgate/pkg/upstream"
)

const version = "0.1.0"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: mcpgate [flags]\n\nServe a gated MCP proxy over stdio for the upstream declared in the config.\n\nFlags:\n")
		flag.PrintDefaults()
	}

	configPath := flag.String("config", "mcpgate.yaml", "path to configuration file")
	envFile := flag.String("env", ".env", "path to .env file (ignored if missing)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn or error")
	flag.Parse()

	if err := loadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if err := run(*configPath, *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadDotEnv loads environment variables from path. Missing files are ignored.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// run wires config, upstream and proxy together and serves on stdio
// until the client disconnects or a signal arrives. Logs go to stderr;
// stdout carries the protocol.
func run(configPath, logLevel string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log, err := newLogger(logLevel)
	if err != nil {
		return err
	}

	cfg, err := gateconfig.Load(configPath)
	if err != nil {
		return err
	}

	reg, err := cfg.Registry()
	if err != nil {
		return err
	}

	timeout, err := cfg.ElicitTimeout()
	if err != nil {
		return err
	}

	up, err := connectUpstream(ctx, cfg.Upstream)
	if err != nil {
		return fmt.Errorf("connect upstream: %w", err)
	}

	p, err := proxy.New(ctx, reg, up, proxy.Options{
		Name:           cfg.Name,
		Version:        cfg.Version,
		Instructions:   cfg.Instructions,
		MaxTools:       cfg.Groups.MaxTools,
		CountMetaTools: cfg.Groups.CountMetaTools,
		ElicitTimeout:  timeout,
		Logger:         log,
	})
	if err != nil {
		up.Close()
		return err
	}

	log.Info("serving", "config", configPath, "upstream", upstreamName(cfg.Upstream))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.Serve(ctx, os.Stdin, os.Stdout)
	})
	g.Go(func() error {
		<-ctx.Done()
		return up.Close()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}

func connectUpstream(ctx context.Context, cfg gateconfig.UpstreamConfig) (*upstream.Client, error) {
	if cfg.URL != "" {
		return upstream.ConnectSSE(ctx, cfg.URL)
	}
	return upstream.Connect(ctx, cfg.Command, cfg.Args...)
}

func upstreamName(cfg gateconfig.UpstreamConfig) string {
	if cfg.URL != "" {
		return cfg.URL
	}
	return cfg.Command
}
