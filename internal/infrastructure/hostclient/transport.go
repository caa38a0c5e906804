package hostclient

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/741g/vperfetto/internal/config"
	"golang.org/x/net/http2"
)

const requestTimeout = 10 * time.Second

// BuildHTTP2Client creates an HTTP/2 client with mTLS 1.3.
func BuildHTTP2Client(certPath, keyPath, caPath string) (*http.Client, error) {
	if certPath == "" {
		return nil, fmt.Errorf("certPath required")
	}
	if keyPath == "" {
		return nil, fmt.Errorf("keyPath required")
	}
	if caPath == "" {
		return nil, fmt.Errorf("caPath required")
	}

	clientCert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("load client certificate: %w", err)
	}
	caCert, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("parse CA certificate %s", caPath)
	}

	return &http.Client{
		Timeout: requestTimeout,
		Transport: &http2.Transport{
			TLSClientConfig: &tls.Config{
				Certificates: []tls.Certificate{clientCert},
				RootCAs:      pool,
				MinVersion:   tls.VersionTLS13,
				MaxVersion:   tls.VersionTLS13,
			},
		},
	}, nil
}

// ClientFromConfig returns the mTLS client when a certificate is configured
// and a plain client otherwise.
func ClientFromConfig(cfg config.Guest) (*http.Client, error) {
	if cfg.CertPath == "" {
		return &http.Client{Timeout: requestTimeout}, nil
	}
	return BuildHTTP2Client(cfg.CertPath, cfg.KeyPath, cfg.CAPath)
}
