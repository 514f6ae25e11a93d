// Package capture recovers a dynamically issued URL from a child process's
// live output and keeps draining the stream once the URL has been found.
package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sync"
	"time"
)

// DefaultPattern matches quick-tunnel hostnames.
const DefaultPattern = `https://[a-z0-9-]+\.trycloudflare\.com`

var (
	// ErrTimeout is returned when no URL appeared within the capture window.
	ErrTimeout = errors.New("timed out waiting for tunnel URL")
	// ErrStreamClosed is returned when the output ended before any URL appeared.
	ErrStreamClosed = errors.New("output closed before a tunnel URL appeared")
)

// State of a capture session.
type State int

const (
	NotStarted State = iota
	Spawning
	CapturingURL
	Established
	Failed
	Stopped
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Spawning:
		return "spawning"
	case CapturingURL:
		return "capturing_url"
	case Established:
		return "established"
	case Failed:
		return "failed"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session tracks one tunnel process's output from spawn to stop.
// Capture finds the first match; Drain takes over the same reader afterwards
// and never matches again.
type Session struct {
	pattern *regexp.Regexp
	sink    io.Writer // every line, verbatim
	echo    io.Writer // optional copy of drained lines (console)

	mu      sync.Mutex
	state   State
	url     string
	drained chan struct{}
}

// Options configure a Session.
type Options struct {
	// Pattern defaults to DefaultPattern.
	Pattern *regexp.Regexp
	// Sink receives every line read, both while capturing and while draining.
	Sink io.Writer
	// Echo, when set, additionally receives lines read after the URL is found.
	Echo io.Writer
}

// NewSession returns a session in the NotStarted state.
func NewSession(opts Options) *Session {
	p := opts.Pattern
	if p == nil {
		p = regexp.MustCompile(DefaultPattern)
	}
	sink := opts.Sink
	if sink == nil {
		sink = io.Discard
	}
	return &Session{pattern: p, sink: sink, echo: opts.Echo, drained: make(chan struct{})}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// URL returns the captured URL once Established.
func (s *Session) URL() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url, s.url != ""
}

// Spawning marks the owning process as being launched.
func (s *Session) Spawning() { s.set(NotStarted, Spawning) }

// Stop marks the session stopped; the drain ends on its own when the
// process's output closes.
func (s *Session) Stop() {
	s.mu.Lock()
	s.state = Stopped
	s.mu.Unlock()
}

// Drained is closed once nothing reads the stream any more: the background
// drain hit end of stream, or a failed capture's scanner returned.
func (s *Session) Drained() <-chan struct{} { return s.drained }

func (s *Session) set(from, to State) {
	s.mu.Lock()
	if s.state == from {
		s.state = to
	}
	s.mu.Unlock()
}

type result struct {
	url string
	err error
}

// Capture blocks until a line matching the pattern is read from r, the stream
// ends, timeout elapses (0 waits forever) or ctx is cancelled. Every line read
// is written to the sink. On success a background goroutine keeps draining r
// for the rest of the process's life.
func (s *Session) Capture(ctx context.Context, r io.Reader, timeout time.Duration) (string, error) {
	s.mu.Lock()
	s.state = CapturingURL
	s.mu.Unlock()

	br := bufio.NewReader(r)
	found := make(chan result, 1)
	go func() { found <- s.scan(br) }()

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case res := <-found:
		if res.err != nil {
			s.fail()
			close(s.drained)
			return "", res.err
		}
		s.mu.Lock()
		s.url = res.url
		s.state = Established
		s.mu.Unlock()
		go s.drain(br)
		return res.url, nil
	case <-expired:
		s.abandon(found)
		return "", fmt.Errorf("%w after %s", ErrTimeout, timeout)
	case <-ctx.Done():
		s.abandon(found)
		return "", ctx.Err()
	}
}

func (s *Session) fail() {
	s.mu.Lock()
	s.state = Failed
	s.mu.Unlock()
}

// abandon marks the session failed while the scanner is still blocked on the
// stream; Drained closes once the owner kills the process and the scanner
// sees the stream end.
func (s *Session) abandon(found <-chan result) {
	s.fail()
	go func() {
		<-found
		close(s.drained)
	}()
}

// scan reads lines until the first match. The scanner goroutine may outlive a
// timed out Capture; it exits once the owner kills the process and the
// stream closes.
func (s *Session) scan(br *bufio.Reader) result {
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			_, _ = io.WriteString(s.sink, line)
			if u := s.pattern.FindString(line); u != "" {
				return result{url: u}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return result{err: ErrStreamClosed}
			}
			return result{err: fmt.Errorf("%w: %v", ErrStreamClosed, err)}
		}
	}
}

// drain copies the remaining output to the sink (and echo) until EOF so the
// child never blocks on a full pipe.
func (s *Session) drain(br *bufio.Reader) {
	defer close(s.drained)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			_, _ = io.WriteString(s.sink, line)
			if s.echo != nil {
				_, _ = io.WriteString(s.echo, line)
			}
		}
		if err != nil {
			return
		}
	}
}
