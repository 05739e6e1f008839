// Package smtp implements a synchronous SMTP submission client: a TLS line
// channel and a strictly sequential command/response engine that drives one
// AUTH LOGIN delivery per connection.
package smtp

import (
	"crypto/tls"
	"net"
	"strconv"
	"time"
)

// defaultConnectTimeout bounds DNS lookup, TCP connect and the TLS handshake.
const defaultConnectTimeout = 15 * time.Second

// defaultLocalName is sent in EHLO when no local domain is configured.
const defaultLocalName = "localhost"

// ConnectionConfig describes the relay. It is built once at startup and
// treated as read-only by the client.
type ConnectionConfig struct {
	Host     string
	Port     int
	Username string
	Password string

	// ImplicitTLS wraps the socket in TLS before the greeting is read.
	// When false the dialogue runs over plain TCP.
	ImplicitTLS bool

	// Enabled switches the relay path on.
	Enabled bool

	// LocalName is the domain announced in EHLO.
	LocalName string

	// ConnectTimeout bounds connect and handshake. Zero uses 15s.
	ConnectTimeout time.Duration

	// IOTimeout bounds each read and write after connecting. Zero leaves
	// them unbounded.
	IOTimeout time.Duration

	// TLSConfig overrides the client TLS settings. ServerName defaults to Host.
	TLSConfig *tls.Config
}

// Addr returns host:port.
func (c ConnectionConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// HasCredentials returns true if both username and password are set.
func (c ConnectionConfig) HasCredentials() bool {
	return c.Username != "" && c.Password != ""
}

// Usable returns true if the relay is enabled and has credentials.
func (c ConnectionConfig) Usable() bool {
	return c.Enabled && c.HasCredentials()
}

func (c ConnectionConfig) localName() string {
	if c.LocalName == "" {
		return defaultLocalName
	}
	return c.LocalName
}

func (c ConnectionConfig) connectTimeout() time.Duration {
	if c.ConnectTimeout <= 0 {
		return defaultConnectTimeout
	}
	return c.ConnectTimeout
}

func (c ConnectionConfig) tlsConfig() *tls.Config {
	var cfg *tls.Config
	if c.TLSConfig != nil {
		cfg = c.TLSConfig.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = c.Host
	}
	return cfg
}
