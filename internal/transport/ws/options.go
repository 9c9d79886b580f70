package ws

import "time"

const (
	defaultWriteWait      = 10 * time.Second
	defaultPongWait       = 60 * time.Second
	defaultMaxMessageSize = 64 * 1024 // enough for SDP with many candidates
	defaultSendBuffer     = 64
	defaultRatePerSecond  = 50
	defaultRateBurst      = 100
)

type Options struct {
	// AllowedOrigins holds scheme://host entries; "*" allows everything.
	AllowedOrigins []string
	MaxMessageSize int64
	SendBuffer     int
	WriteWait      time.Duration
	PongWait       time.Duration
	RatePerSecond  float64
	RateBurst      int
}

func (o Options) withDefaults() Options {
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = defaultMaxMessageSize
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = defaultSendBuffer
	}
	if o.WriteWait <= 0 {
		o.WriteWait = defaultWriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = defaultPongWait
	}
	if o.RatePerSecond <= 0 {
		o.RatePerSecond = defaultRatePerSecond
	}
	if o.RateBurst <= 0 {
		o.RateBurst = defaultRateBurst
	}
	return o
}

func (o Options) pingPeriod() time.Duration {
	return o.PongWait * 9 / 10
}
