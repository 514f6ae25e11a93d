package detector

import (
	"context"
	"net/http"
	"time"
)

const defaultHTTPTimeout = 2 * time.Second

// HTTPDetector is alive when GET URL answers 200.
type HTTPDetector struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
}

func (d HTTPDetector) Alive() (bool, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return false, err
	}
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		// connection refused and timeouts just mean "not up"
		return false, nil
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

func (d HTTPDetector) Describe() string { return "http:" + d.URL }
