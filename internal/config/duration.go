package config

import (
	"fmt"
	"strings"
	"time"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// RPCTimings are the resolved rpc durations with defaults applied.
type RPCTimings struct {
	PollInterval    time.Duration
	PollMaxInterval time.Duration
	RequestTimeout  time.Duration
}

func (c RPCConfig) Timings() (RPCTimings, error) {
	var (
		t   RPCTimings
		err error
	)
	if t.PollInterval, err = ParseDurationOrDefault("rpc.poll_interval", c.PollInterval, 10*time.Second); err != nil {
		return RPCTimings{}, err
	}
	if t.PollMaxInterval, err = ParseDurationOrDefault("rpc.poll_max_interval", c.PollMaxInterval, time.Hour); err != nil {
		return RPCTimings{}, err
	}
	if t.RequestTimeout, err = ParseDurationOrDefault("rpc.request_timeout", c.RequestTimeout, 150*time.Second); err != nil {
		return RPCTimings{}, err
	}
	if t.PollMaxInterval < t.PollInterval {
		return RPCTimings{}, fmt.Errorf("rpc.poll_max_interval (%s) must be >= rpc.poll_interval (%s)", t.PollMaxInterval, t.PollInterval)
	}
	return t, nil
}
