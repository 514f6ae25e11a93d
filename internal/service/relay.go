package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/loykin/remoto/internal/detector"
	"github.com/loykin/remoto/internal/process"
)

// RelayConfigName is the file name looked up in the working directory and home.
const RelayConfigName = "mediamtx.yml"

// RelayOptions configure the media relay.
type RelayOptions struct {
	Binary   string
	Config   string // explicit config path; generated there when missing
	Home     string // fallback config location
	RTSPPort int
	HLSPort  int
	Path     string // stream path published by the encoder
	Settle   time.Duration
}

// Relay runs the media relay that takes the encoder's RTSP feed and serves it
// as low-latency HLS. It counts as running when its PID is alive or when
// anything listens on the HLS port, since an externally started relay has no
// PID file.
type Relay struct {
	supervised
	opts RelayOptions
}

func NewRelay(setup Setup, opts RelayOptions) *Relay {
	r := &Relay{
		supervised: newSupervised(setup, "mediamtx", Requirement{
			Binary: opts.Binary,
			Remedy: "install MediaMTX (macOS: brew install mediamtx; others: https://github.com/bluenviron/mediamtx/releases)",
		}),
		opts: opts,
	}
	r.alive = detector.AnyOf{
		detector.PIDFileDetector{PIDFile: r.desc.PIDFile},
		detector.PortDetector{Port: opts.HLSPort},
	}
	r.verify = detector.PortDetector{Port: opts.HLSPort}
	r.settle = opts.Settle
	return r
}

func (r *Relay) Start(ctx context.Context, _ *Runtime) error {
	if r.alreadyRunning() {
		return nil
	}
	cfg, err := r.EnsureConfig()
	if err != nil {
		return startErr(r.Name(), err, "check permissions of "+r.opts.Home)
	}
	return r.launch(ctx, func(string) process.Spec {
		return process.Spec{Args: []string{cfg}}
	})
}

// Stop shuts the relay down gracefully so active sessions close cleanly.
func (r *Relay) Stop(ctx context.Context) error { return r.stop(ctx) }

// EnsureConfig returns the relay config path, writing the default config when
// none exists. An explicit path wins; otherwise the working directory and then
// the home directory are searched, and a new file goes to the home directory.
func (r *Relay) EnsureConfig() (string, error) {
	var candidates []string
	if r.opts.Config != "" {
		candidates = []string{r.opts.Config}
	} else {
		if wd, err := os.Getwd(); err == nil {
			candidates = append(candidates, filepath.Join(wd, RelayConfigName))
		}
		candidates = append(candidates, filepath.Join(r.opts.Home, RelayConfigName))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
	}
	target := candidates[len(candidates)-1]
	data, err := RenderRelayConfig(r.opts)
	if err != nil {
		return "", err
	}
	if err := process.WriteFileAtomic(target, data, 0o644); err != nil {
		return "", fmt.Errorf("write relay config: %w", err)
	}
	r.log.Info("created relay config", "path", target)
	return target, nil
}

type relayPath struct {
	Source string `yaml:"source"`
}

type relayConfig struct {
	LogLevel        string   `yaml:"logLevel"`
	LogDestinations []string `yaml:"logDestinations"`
	ReadTimeout     string   `yaml:"readTimeout"`
	WriteTimeout    string   `yaml:"writeTimeout"`

	RTSP           bool     `yaml:"rtsp"`
	RTSPAddress    string   `yaml:"rtspAddress"`
	RTSPTransports []string `yaml:"rtspTransports"`
	RTSPEncryption string   `yaml:"rtspEncryption"`

	HLS                bool   `yaml:"hls"`
	HLSAddress         string `yaml:"hlsAddress"`
	HLSEncryption      bool   `yaml:"hlsEncryption"`
	HLSAllowOrigin     string `yaml:"hlsAllowOrigin"`
	HLSAlwaysRemux     bool   `yaml:"hlsAlwaysRemux"`
	HLSVariant         string `yaml:"hlsVariant"`
	HLSSegmentCount    int    `yaml:"hlsSegmentCount"`
	HLSSegmentDuration string `yaml:"hlsSegmentDuration"`
	HLSPartDuration    string `yaml:"hlsPartDuration"`
	HLSMuxerCloseAfter string `yaml:"hlsMuxerCloseAfter"`

	RTMP     bool `yaml:"rtmp"`
	WebRTC   bool `yaml:"webrtc"`
	SRT      bool `yaml:"srt"`
	API      bool `yaml:"api"`
	Metrics  bool `yaml:"metrics"`
	PPROF    bool `yaml:"pprof"`
	Playback bool `yaml:"playback"`

	PathDefaults relayPath            `yaml:"pathDefaults"`
	Paths        map[string]relayPath `yaml:"paths"`
}

// RenderRelayConfig produces the default relay configuration: RTSP ingest over
// TCP and low-latency HLS egress with every other protocol disabled.
func RenderRelayConfig(opts RelayOptions) ([]byte, error) {
	path := opts.Path
	if path == "" {
		path = "screen"
	}
	c := relayConfig{
		LogLevel:           "info",
		LogDestinations:    []string{"stdout"},
		ReadTimeout:        "3600s",
		WriteTimeout:       "3600s",
		RTSP:               true,
		RTSPAddress:        ":" + strconv.Itoa(opts.RTSPPort),
		RTSPTransports:     []string{"tcp"},
		RTSPEncryption:     "no",
		HLS:                true,
		HLSAddress:         ":" + strconv.Itoa(opts.HLSPort),
		HLSAllowOrigin:     "*",
		HLSAlwaysRemux:     true,
		HLSVariant:         "lowLatency",
		HLSSegmentCount:    7,
		HLSSegmentDuration: "1s",
		HLSPartDuration:    "200ms",
		HLSMuxerCloseAfter: "3600s",
		PathDefaults:       relayPath{Source: "publisher"},
		Paths:              map[string]relayPath{path: {Source: "publisher"}},
	}
	return yaml.Marshal(c)
}
