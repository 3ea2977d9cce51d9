package main

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"

	"github.com/omochice/relay-chat/internal/certs"
	"github.com/omochice/relay-chat/internal/chat"
	"github.com/omochice/relay-chat/internal/client"
	"github.com/omochice/relay-chat/internal/config"
	"github.com/omochice/relay-chat/internal/transport/p2p"
	"github.com/omochice/relay-chat/internal/transport/tcp"
	"github.com/omochice/relay-chat/internal/transport/ws"
)

// Exit codes for the client application.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

var styles = map[client.EventKind]color.Style{
	client.EventConnected:    color.New(color.FgGreen),
	client.EventDelivered:    color.New(color.FgGreen),
	client.EventWarning:      color.New(color.FgYellow),
	client.EventTyping:       color.New(color.FgGray),
	client.EventSelf:         color.New(color.FgCyan),
	client.EventDisconnected: color.New(color.FgRed, color.OpBold),
}

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Client error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	cfg, err := config.LoadClient()
	if err != nil {
		return exitConfig, err
	}

	flag.StringVar(&cfg.Server, "server", cfg.Server, "Server address (host:port, ws URL or p2p multiaddr)")
	flag.StringVar(&cfg.Name, "name", cfg.Name, "Display name for chat")
	flag.StringVar(&cfg.Transport, "transport", cfg.Transport, "Transport: tls, ws or p2p")
	flag.BoolVar(&cfg.Insecure, "insecure", cfg.Insecure, "Skip server certificate verification")
	flag.Parse()

	if cfg.Name == "" {
		return exitConfig, errors.New("name is required, use -name or CHAT_NAME")
	}
	if err := cfg.Validate(); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, cleanup, err := dial(ctx, cfg, log)
	if err != nil {
		return exitRuntime, err
	}
	defer cleanup()

	relay := client.New(conn, cfg.Name, log)

	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for ev := range relay.Events() {
			line := ev.String()
			if style, ok := styles[ev.Kind]; ok {
				line = style.Render(line)
			}
			fmt.Println(line)
		}
	}()

	fmt.Println("Type your messages (/typing, /idle, or 'quit' to exit):")
	input := make(chan string)
	go readInput(ctx, os.Stdin, relay, input)

	err = relay.Run(ctx, input)
	<-printed
	if err != nil && !errors.Is(err, context.Canceled) {
		return exitRuntime, err
	}
	return exitOK, nil
}

func dial(ctx context.Context, cfg config.Client, log *slog.Logger) (chat.Conn, func(), error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS13}
	if cfg.Insecure {
		log.Warn("INSECURE: server certificate verification disabled")
		tlsConfig = certs.InsecureClientConfig()
	}

	switch cfg.Transport {
	case config.TransportWebSocket:
		url := cfg.Server
		if !strings.Contains(url, "://") {
			url = "wss://" + url + ws.Path
		}
		conn, err := ws.Dial(ctx, url, tlsConfig)
		if err != nil {
			return nil, nil, err
		}
		return conn, func() {}, nil
	case config.TransportP2P:
		host, err := p2p.NewHost(nil, log)
		if err != nil {
			return nil, nil, err
		}
		conn, err := host.Dial(ctx, cfg.Server)
		if err != nil {
			host.Close()
			return nil, nil, err
		}
		return conn, func() { host.Close() }, nil
	default:
		conn, err := tcp.Dial(ctx, cfg.Server, tlsConfig)
		if err != nil {
			return nil, nil, err
		}
		return conn, func() {}, nil
	}
}

// readInput forwards stdin lines to input and closes it when the user quits.
func readInput(ctx context.Context, r io.Reader, relay *client.Relay, input chan<- string) {
	defer close(input)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		switch text {
		case "":
			continue
		case "quit", "exit":
			return
		case "/typing", "/idle":
			if err := relay.SendTyping(ctx, text == "/typing"); err != nil {
				return
			}
			continue
		}

		select {
		case input <- text:
		case <-ctx.Done():
			return
		}
	}
}
