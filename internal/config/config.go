// Package config loads server and client settings from the environment and
// an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strconv"
	"strings"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

// Transport names accepted by the client.
const (
	TransportTLS       = "tls"
	TransportWebSocket = "ws"
	TransportP2P       = "p2p"
)

// Server defines the server-side environment variables.
type Server struct {
	Host       string `env:"CHAT_HOST,default=0.0.0.0"`
	Port       int    `env:"CHAT_PORT,default=4433"`
	CertFile   string `env:"CHAT_CERT_FILE"`
	KeyFile    string `env:"CHAT_KEY_FILE"`
	ServerName string `env:"CHAT_SERVER_NAME,default=relay-chat-server"`
	QueueSize  int    `env:"CHAT_QUEUE_SIZE,default=16"`
	P2PListen  string `env:"CHAT_P2P_LISTEN"`
	AdminAddr  string `env:"CHAT_ADMIN_ADDR"`
	LogLevel   string `env:"LOG_LEVEL,default=INFO"`
}

// Address returns the host:port the server listens on.
func (c Server) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// SelfSigned reports whether no certificate files are configured.
func (c Server) SelfSigned() bool {
	return c.CertFile == "" && c.KeyFile == ""
}

// P2PListenAddrs returns the comma separated multiaddrs of CHAT_P2P_LISTEN.
func (c Server) P2PListenAddrs() []string {
	return splitList(c.P2PListen)
}

// Validate checks values the environment parser cannot.
func (c Server) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return errors.New("CHAT_CERT_FILE and CHAT_KEY_FILE must be set together")
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("invalid queue size %d", c.QueueSize)
	}
	return nil
}

// Client defines the client-side environment variables.
type Client struct {
	Server    string `env:"CHAT_SERVER,default=localhost:4433"`
	Name      string `env:"CHAT_NAME"`
	Transport string `env:"CHAT_TRANSPORT,default=tls"`
	Insecure  bool   `env:"CHAT_INSECURE,default=false"`
	LogLevel  string `env:"LOG_LEVEL,default=WARN"`
}

// Validate checks values the environment parser cannot.
func (c Client) Validate() error {
	switch c.Transport {
	case TransportTLS, TransportWebSocket, TransportP2P:
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	if strings.TrimSpace(c.Server) == "" {
		return errors.New("server address is required")
	}
	return nil
}

// LoadServer reads the server configuration.
func LoadServer() (Server, error) {
	var c Server
	if err := load(&c); err != nil {
		return Server{}, err
	}
	return c, nil
}

// LoadClient reads the client configuration.
func LoadClient() (Client, error) {
	var c Client
	if err := load(&c); err != nil {
		return Client{}, err
	}
	return c, nil
}

// load applies a .env file from the working directory, if any, then the
// environment. Variables already set take precedence over the file.
func load(v any) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	if _, err := env.UnmarshalFromEnviron(v); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
