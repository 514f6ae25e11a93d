package orchestrator

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/loykin/remoto/internal/process_group"
	"github.com/loykin/remoto/internal/service"
)

const rule = "============================================================"

// Summary is what a user needs to reach the running session.
type Summary struct {
	Session   string `json:"session"`
	APIURL    string `json:"api_url,omitempty"`
	StreamURL string `json:"stream_url,omitempty"`
	Password  string `json:"password"`
	LogsDir   string `json:"logs_dir"`
}

func (o *Orchestrator) summarize(rt *service.Runtime, password string) *Summary {
	s := &Summary{Session: rt.Session, Password: password, LogsDir: o.cfg.LogsDir}
	if u, ok := rt.URL(APITunnel); ok {
		s.APIURL = u
	}
	if u, ok := rt.URL(o.source); ok {
		s.StreamURL = o.streamPath(u)
	}
	return s
}

// streamPath appends the published stream path to a stream tunnel URL.
func (o *Orchestrator) streamPath(u string) string {
	if u == "" || o.cfg.Relay.Path == "" {
		return u
	}
	return strings.TrimRight(u, "/") + "/" + o.cfg.Relay.Path
}

// Print writes the access summary banner.
func (s *Summary) Print(w io.Writer) {
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "REMOTO READY")
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w)
	if s.APIURL != "" {
		fmt.Fprintf(w, "API URL: %s\n", s.APIURL)
	} else {
		fmt.Fprintln(w, "API URL: (local only)")
	}
	if s.StreamURL != "" {
		fmt.Fprintf(w, "Stream URL: %s\n", s.StreamURL)
	}
	fmt.Fprintf(w, "Session Password: %s\n", s.Password)
	fmt.Fprintln(w)
	if s.APIURL != "" {
		fmt.Fprintln(w, "Access from your phone:")
		fmt.Fprintf(w, "1. Open: %s\n", s.APIURL)
		fmt.Fprintln(w, "2. Enter password when prompted")
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "Logs directory: %s\n", s.LogsDir)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w)
}

// Status is a read-only snapshot of every service and the session values.
type Status struct {
	Strategy  string                 `json:"strategy"`
	Services  []process_group.Status `json:"services"`
	APIURL    string                 `json:"api_url,omitempty"`
	StreamURL string                 `json:"stream_url,omitempty"`
	Password  string                 `json:"password,omitempty"`
}

// Status queries liveness and the persisted URL and secret files. It never
// changes state. URLs of tunnels that are not running are left out.
func (o *Orchestrator) Status() Status {
	st := Status{Strategy: o.strategy, Services: o.group(o.plan).Status()}
	for _, s := range st.Services {
		switch s.Name {
		case APITunnel:
			st.APIURL = s.URL
		case o.source:
			st.StreamURL = o.streamPath(s.URL)
		}
	}
	st.Password, _ = o.secrets.Load()
	return st
}

// URLs returns the running tunnels' URLs keyed by service name.
func (o *Orchestrator) URLs() map[string]string {
	out := map[string]string{}
	for _, s := range o.group(o.plan).Status() {
		if s.URL != "" {
			out[s.Name] = s.URL
		}
	}
	return out
}

// Print writes the status table followed by the session values.
func (st Status) Print(w io.Writer) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "REMOTO STATUS")
	fmt.Fprintln(w, rule)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, s := range st.Services {
		state := "STOPPED"
		if s.Running {
			state = "RUNNING"
		}
		pid := "-"
		if s.Running && s.PID > 0 {
			pid = fmt.Sprint(s.PID)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Name, state, pid)
	}
	_ = tw.Flush()
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w)
	if st.APIURL != "" {
		fmt.Fprintf(w, "API URL: %s\n", st.APIURL)
	}
	if st.StreamURL != "" {
		fmt.Fprintf(w, "Stream URL: %s\n", st.StreamURL)
	}
	if st.Password != "" {
		fmt.Fprintf(w, "Password: %s\n", st.Password)
	}
	fmt.Fprintln(w)
}
