package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

const (
	gib = int64(1024 * 1024 * 1024)
)

type profile struct {
	Name          string
	Clients       int
	Duration      time.Duration
	RPS           float64
	ShoutEvery    int
	PayloadBytes  int
	MaxProcs      int
	MemLimitBytes int64
}

var profiles = map[string]profile{
	"fast": {
		Name:         "fast",
		Clients:      50,
		Duration:     10 * time.Second,
		RPS:          2,
		PayloadBytes: 24,
	},
	"standard": {
		Name:         "standard",
		Clients:      200,
		Duration:     30 * time.Second,
		RPS:          5,
		ShoutEvery:   50,
		PayloadBytes: 24,
	},
	"stress": {
		Name:          "stress",
		Clients:       500,
		Duration:      60 * time.Second,
		RPS:           10,
		ShoutEvery:    20,
		PayloadBytes:  64,
		MaxProcs:      4,
		MemLimitBytes: 2 * gib,
	},
}

type benchConfig struct {
	Profile       string
	Clients       int
	Duration      time.Duration
	RPS           float64
	ShoutEvery    int
	PayloadBytes  int
	MaxProcs      int
	MemLimitBytes int64
	JSONOutput    string
	EventTimeout  time.Duration
}

// parseConfig resolves the profile named by --profile and applies any
// explicit overrides on top of it.
func parseConfig(args []string) (benchConfig, error) {
	fs := pflag.NewFlagSet("cable-bench", pflag.ContinueOnError)
	profileFlag := fs.StringP("profile", "p", "standard", "profile: fast|standard|stress")
	clientsFlag := fs.IntP("clients", "c", -1, "number of concurrent websocket clients")
	durationFlag := fs.DurationP("duration", "d", 0, "benchmark duration, e.g. 30s")
	rpsFlag := fs.Float64("rps", -1, "target events/sec per client")
	shoutFlag := fs.Int("shout-every", -1, "broadcast to every client once per N events (0 disables)")
	payloadFlag := fs.Int("payload-bytes", -1, "bytes of token payload per event")
	maxProcsFlag := fs.Int("max-procs", -1, "GOMAXPROCS cap (0 to leave unchanged)")
	memLimitFlag := fs.String("mem-limit", "", "GOMEMLIMIT (e.g. 2GiB)")
	jsonFlag := fs.String("json", "-", "JSON output path ('-' for stdout)")
	if err := fs.Parse(args); err != nil {
		return benchConfig{}, err
	}

	name := strings.ToLower(strings.TrimSpace(*profileFlag))
	if name == "" {
		name = "standard"
	}

	base, ok := profiles[name]
	if !ok {
		return benchConfig{}, fmt.Errorf("unknown profile %q", name)
	}

	cfg := benchConfig{
		Profile:       base.Name,
		Clients:       base.Clients,
		Duration:      base.Duration,
		RPS:           base.RPS,
		ShoutEvery:    base.ShoutEvery,
		PayloadBytes:  base.PayloadBytes,
		MaxProcs:      base.MaxProcs,
		MemLimitBytes: base.MemLimitBytes,
		JSONOutput:    strings.TrimSpace(*jsonFlag),
	}

	if *clientsFlag != -1 {
		cfg.Clients = *clientsFlag
	}
	if fs.Changed("duration") {
		cfg.Duration = *durationFlag
	}
	if *rpsFlag != -1 {
		cfg.RPS = *rpsFlag
	}
	if *shoutFlag != -1 {
		cfg.ShoutEvery = *shoutFlag
	}
	if *payloadFlag != -1 {
		cfg.PayloadBytes = *payloadFlag
	}
	if *maxProcsFlag != -1 {
		cfg.MaxProcs = *maxProcsFlag
	}
	if *memLimitFlag != "" {
		limit, err := parseBytes(*memLimitFlag)
		if err != nil {
			return benchConfig{}, fmt.Errorf("invalid --mem-limit: %w", err)
		}
		cfg.MemLimitBytes = limit
	}
	if cfg.JSONOutput == "" {
		cfg.JSONOutput = "-"
	}

	if err := cfg.validate(); err != nil {
		return benchConfig{}, err
	}

	cfg.EventTimeout = eventTimeout(cfg.RPS)
	return cfg, nil
}

func (cfg benchConfig) validate() error {
	switch {
	case cfg.Clients <= 0:
		return errors.New("--clients must be > 0")
	case cfg.Duration <= 0:
		return errors.New("--duration must be > 0")
	case cfg.RPS <= 0:
		return errors.New("--rps must be > 0")
	case cfg.ShoutEvery < 0:
		return errors.New("--shout-every must be >= 0")
	case cfg.PayloadBytes <= 0:
		return errors.New("--payload-bytes must be > 0")
	case cfg.MaxProcs < 0:
		return errors.New("--max-procs must be >= 0")
	case cfg.MemLimitBytes < 0:
		return errors.New("--mem-limit must be >= 0")
	}
	return nil
}

func eventTimeout(rps float64) time.Duration {
	if rps <= 0 {
		return 0
	}
	period := time.Duration(float64(time.Second) / rps)
	timeout := period * 10
	if timeout < 2*time.Second {
		timeout = 2 * time.Second
	}
	return timeout
}

func parseBytes(input string) (int64, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return 0, errors.New("empty size")
	}

	var i int
	for i < len(s) {
		c := s[i]
		if (c >= '0' && c <= '9') || c == '.' {
			i++
			continue
		}
		break
	}
	if i == 0 {
		return 0, fmt.Errorf("invalid size %q", input)
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(s[:i]), 64)
	if err != nil {
		return 0, err
	}

	var multiplier float64
	switch suffix := strings.ToLower(strings.TrimSpace(s[i:])); suffix {
	case "", "b":
		multiplier = 1
	case "kb":
		multiplier = 1e3
	case "mb":
		multiplier = 1e6
	case "gb":
		multiplier = 1e9
	case "kib":
		multiplier = 1024
	case "mib":
		multiplier = 1024 * 1024
	case "gib":
		multiplier = float64(gib)
	default:
		return 0, fmt.Errorf("unknown size suffix %q", suffix)
	}

	return int64(value*multiplier + 0.5), nil
}
