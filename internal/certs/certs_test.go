package certs_test

import (
	"crypto/x509"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/relay-chat/internal/certs"
)

func TestSelfSigned(t *testing.T) {
	cert, err := certs.SelfSigned("localhost", "127.0.0.1")
	require.NoError(t, err)
	require.Len(t, cert.Certificate, 1)

	parsed, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost"}, parsed.DNSNames)
	require.Len(t, parsed.IPAddresses, 1)
	assert.Equal(t, "127.0.0.1", parsed.IPAddresses[0].String())
}

func TestLoad_MissingFiles(t *testing.T) {
	_, err := certs.Load("does-not-exist.pem", "does-not-exist.key")
	assert.Error(t, err)
}

func TestInsecureClientConfig(t *testing.T) {
	assert.True(t, certs.InsecureClientConfig().InsecureSkipVerify)
}
