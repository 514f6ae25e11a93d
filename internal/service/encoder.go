package service

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/loykin/remoto/internal/process"
)

// EncoderOptions configure the screen encoder.
type EncoderOptions struct {
	Binary  string
	Args    []string // replaces DefaultEncoderArgs when set
	Publish string   // RTSP URL the encoder pushes to
	Settle  time.Duration
}

// Encoder captures the screen and publishes it to the relay over RTSP.
type Encoder struct {
	supervised
	opts EncoderOptions
}

func NewEncoder(setup Setup, opts EncoderOptions) *Encoder {
	e := &Encoder{
		supervised: newSupervised(setup, "ffmpeg", Requirement{
			Binary: opts.Binary,
			Remedy: "install FFmpeg (macOS: brew install ffmpeg; Linux: apt install ffmpeg; Windows: https://ffmpeg.org/download.html)",
		}),
		opts: opts,
	}
	e.settle = opts.Settle
	e.force = true
	return e
}

func (e *Encoder) Start(ctx context.Context, _ *Runtime) error {
	if e.alreadyRunning() {
		return nil
	}
	args := e.opts.Args
	if len(args) == 0 {
		args = DefaultEncoderArgs(runtime.GOOS, e.opts.Publish)
	}
	return e.launch(ctx, func(string) process.Spec {
		return process.Spec{Args: args}
	})
}

func (e *Encoder) Stop(ctx context.Context) error { return e.stop(ctx) }

// RTSPPublishURL is where the encoder publishes and the relay ingests.
func RTSPPublishURL(port int, path string) string {
	return fmt.Sprintf("rtsp://127.0.0.1:%d/%s", port, path)
}

// DefaultEncoderArgs returns a software-friendly capture pipeline for goos:
// 30 fps, 3 Mbit/s, 2 second GOP, published over RTSP/TCP.
func DefaultEncoderArgs(goos, publish string) []string {
	var input, codec []string
	switch goos {
	case "windows":
		input = []string{"-f", "gdigrab", "-framerate", "30", "-i", "desktop"}
		codec = []string{"-vf", "fps=30", "-c:v", "libx264", "-preset", "ultrafast", "-tune", "zerolatency"}
	case "darwin":
		input = []string{"-f", "avfoundation", "-pixel_format", "nv12", "-framerate", "30", "-i", "1"}
		codec = []string{"-vf", "fps=30", "-vsync", "1", "-c:v", "h264_videotoolbox"}
	default:
		input = []string{"-f", "x11grab", "-framerate", "30", "-i", ":0.0"}
		codec = []string{"-vf", "fps=30", "-c:v", "libx264", "-preset", "ultrafast", "-tune", "zerolatency"}
	}
	out := []string{"-b:v", "3M", "-g", "60", "-keyint_min", "60", "-f", "rtsp", "-rtsp_transport", "tcp", publish}
	args := make([]string, 0, len(input)+len(codec)+len(out))
	args = append(args, input...)
	args = append(args, codec...)
	return append(args, out...)
}
