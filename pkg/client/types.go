package client

import "time"

// ServiceStatus is one managed service as reported by GET /status.
type ServiceStatus struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
	PID     int    `json:"pid,omitempty"`
	URL     string `json:"url,omitempty"`
	LogPath string `json:"log_path"`
}

// Status is the session snapshot.
type Status struct {
	Strategy  string          `json:"strategy"`
	Services  []ServiceStatus `json:"services"`
	APIURL    string          `json:"api_url,omitempty"`
	StreamURL string          `json:"stream_url,omitempty"`
	Password  string          `json:"password,omitempty"`
}

// Event is a recorded lifecycle transition.
type Event struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Session    string    `json:"session"`
	Service    string    `json:"service"`
	PID        int       `json:"pid,omitempty"`
	URL        string    `json:"url,omitempty"`
	Error      string    `json:"error,omitempty"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
