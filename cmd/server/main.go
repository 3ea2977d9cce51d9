package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/mama165/sdk-go/logs"
	"golang.org/x/sync/errgroup"

	"github.com/omochice/relay-chat/internal/admin"
	"github.com/omochice/relay-chat/internal/certs"
	"github.com/omochice/relay-chat/internal/chat"
	"github.com/omochice/relay-chat/internal/config"
	"github.com/omochice/relay-chat/internal/server"
	"github.com/omochice/relay-chat/internal/transport/p2p"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadServer()
	if err != nil {
		return err
	}

	// Flags override the environment.
	flag.StringVar(&cfg.Host, "host", cfg.Host, "Address to listen on")
	flag.IntVar(&cfg.Port, "port", cfg.Port, "Port to listen on for both stream and WebSocket clients")
	flag.StringVar(&cfg.CertFile, "cert", cfg.CertFile, "TLS certificate file (self-signed when empty)")
	flag.StringVar(&cfg.KeyFile, "key", cfg.KeyFile, "TLS key file")
	flag.StringVar(&cfg.ServerName, "name", cfg.ServerName, "Server identity announced to clients")
	flag.StringVar(&cfg.P2PListen, "p2p", cfg.P2PListen, "Comma separated libp2p listen multiaddrs")
	flag.StringVar(&cfg.AdminAddr, "admin", cfg.AdminAddr, "Address of the status API (disabled when empty)")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)

	tlsConfig, err := loadTLS(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := chat.NewRegistry()
	hub := chat.NewHub(registry, log,
		chat.WithServerName(cfg.ServerName),
		chat.WithQueueSize(cfg.QueueSize),
	)

	srv := server.New(cfg.Address(), tlsConfig, hub, log)
	if err := srv.Start(); err != nil {
		return err
	}
	defer srv.Stop()

	if addrs := cfg.P2PListenAddrs(); len(addrs) > 0 {
		host, err := p2p.NewHost(addrs, log)
		if err != nil {
			return err
		}
		defer host.Close()
		host.Serve(ctx, hub)
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.AdminAddr != "" {
		listener, err := net.Listen("tcp", cfg.AdminAddr)
		if err != nil {
			return fmt.Errorf("failed to start admin API: %w", err)
		}
		g.Go(func() error {
			return admin.New(registry, log).Serve(gctx, listener)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down...", "clients", srv.ClientCount())
		return nil
	})

	return g.Wait()
}

func loadTLS(cfg config.Server, log *slog.Logger) (*tls.Config, error) {
	var (
		cert tls.Certificate
		err  error
	)
	if cfg.SelfSigned() {
		log.Warn("INSECURE: no certificate configured, using an ephemeral self-signed one")
		hosts := []string{"localhost", "127.0.0.1", "::1"}
		if cfg.Host != "" && cfg.Host != "0.0.0.0" && cfg.Host != "::" {
			hosts = append(hosts, cfg.Host)
		}
		cert, err = certs.SelfSigned(hosts...)
	} else {
		cert, err = certs.Load(cfg.CertFile, cfg.KeyFile)
	}
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
	}, nil
}
