package cli

import (
	"errors"
	"testing"

	"github.com/cwrk-planet/signal-service/internal/peer"
	"github.com/cwrk-planet/signal-service/internal/protocol"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"SIGNAL_URL", "SIGNAL_HTTP", "SIGNAL_GRPC", "STUN_SERVER", "SIGNAL_CODEC"} {
		t.Setenv(k, "")
	}
	cfg, err := Load(Options{})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ServerURL != DefaultServer || cfg.HTTPURL != DefaultHTTP || cfg.GRPCAddr != "" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.STUNServer != peer.DefaultSTUN {
		t.Fatalf("stun = %q", cfg.STUNServer)
	}
	if _, ok := cfg.Codec.(protocol.JSON); !ok {
		t.Fatalf("codec = %T", cfg.Codec)
	}
}

func TestLoadPrecedence(t *testing.T) {
	t.Setenv("SIGNAL_URL", "ws://env/ws")
	t.Setenv("SIGNAL_HTTP", "http://env/")
	t.Setenv("STUN_SERVER", "stun:env:3478")
	t.Setenv("SIGNAL_CODEC", "msgpack")

	cfg, err := Load(Options{})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ServerURL != "ws://env/ws" || cfg.HTTPURL != "http://env" || cfg.STUNServer != "stun:env:3478" {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if _, ok := cfg.Codec.(protocol.Msgpack); !ok {
		t.Fatalf("codec = %T", cfg.Codec)
	}

	cfg, err = Load(Options{Server: "ws://flag/ws", STUN: "none", Codec: "json"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ServerURL != "ws://flag/ws" {
		t.Fatalf("flag not preferred: %q", cfg.ServerURL)
	}
	if cfg.STUNServer != "" || cfg.ICEServers() != nil {
		t.Fatalf("stun none = %q", cfg.STUNServer)
	}
	if _, ok := cfg.Codec.(protocol.JSON); !ok {
		t.Fatalf("codec = %T", cfg.Codec)
	}
}

func TestLoadRejectsUnknownCodec(t *testing.T) {
	_, err := Load(Options{Codec: "xml"})
	if !errors.Is(err, protocol.ErrUnknownCodec) {
		t.Fatalf("err = %v", err)
	}
}
