package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/cwrk-planet/signal-service/internal/peer"
	"github.com/cwrk-planet/signal-service/internal/protocol"
)

const (
	DefaultServer = "ws://localhost:8080/ws"
	DefaultHTTP   = "http://localhost:8080"
	DefaultCodec  = "json"
)

// Config is the resolved peer client configuration.
type Config struct {
	ServerURL  string
	HTTPURL    string
	GRPCAddr   string
	STUNServer string
	Codec      protocol.Codec
}

// Options carries flag values; empty means unset.
type Options struct {
	Server string
	HTTP   string
	GRPC   string
	STUN   string
	Codec  string
}

// Load resolves each setting as flag > environment > default.
// STUN "none" disables the STUN server.
func Load(opts Options) (Config, error) {
	cfg := Config{
		ServerURL:  pick(opts.Server, "SIGNAL_URL", DefaultServer),
		HTTPURL:    strings.TrimRight(pick(opts.HTTP, "SIGNAL_HTTP", DefaultHTTP), "/"),
		GRPCAddr:   pick(opts.GRPC, "SIGNAL_GRPC", ""),
		STUNServer: pick(opts.STUN, "STUN_SERVER", peer.DefaultSTUN),
	}
	if strings.EqualFold(cfg.STUNServer, "none") {
		cfg.STUNServer = ""
	}

	codec, err := protocol.ByName(pick(opts.Codec, "SIGNAL_CODEC", DefaultCodec))
	if err != nil {
		return Config{}, fmt.Errorf("codec: %w", err)
	}
	cfg.Codec = codec
	return cfg, nil
}

// ICEServers returns the STUN list for the pion factory.
func (c Config) ICEServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

func pick(flag, env, def string) string {
	if v := strings.TrimSpace(flag); v != "" {
		return v
	}
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		return v
	}
	return def
}
