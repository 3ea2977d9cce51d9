package tcp

import (
	"context"
	"crypto/tls"
	"fmt"
	"slices"
)

// Dial opens a TLS connection to address and negotiates ALPN.
func Dial(ctx context.Context, address string, config *tls.Config) (*Conn, error) {
	cfg := config.Clone()
	if cfg == nil {
		cfg = &tls.Config{}
	}
	if !slices.Contains(cfg.NextProtos, ALPN) {
		cfg.NextProtos = append(cfg.NextProtos, ALPN)
	}

	d := &tls.Dialer{Config: cfg}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	return NewConn(conn), nil
}
