package env

import (
	"os"
	"sort"
	"strings"
)

// Var is a set of environment variables keyed by name.
type Var map[string]string

// Env composes the environment handed to a managed service: the controller's
// own environment plus per-service overrides.
type Env struct {
	Var  Var // overrides applied to every service
	base Var // cached base from OS environment
}

func New() *Env {
	return &Env{Var: make(Var)}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() *Env {
	e.base = Parse(os.Environ())
	return e
}

// Set sets an override K=V.
func (e *Env) Set(k, v string) *Env {
	if e.Var == nil {
		e.Var = make(Var)
	}
	if k != "" {
		e.Var[k] = v
	}
	return e
}

// Parse converts KEY=VALUE entries into a Var. Entries without '=' or with an
// empty key are ignored; later entries win.
func Parse(kvs []string) Var {
	m := make(Var, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		m[k] = v
	}
	return m
}

// Merge composes the final environment: OS base, then e.Var, then extra.
// ${VAR} references in values are expanded once against the composed map.
// The result is sorted by key so children see a stable environment.
func (e *Env) Merge(extra Var) []string {
	if e.base == nil {
		e.FromOS()
	}
	m := make(Var, len(e.base)+len(e.Var)+len(extra))
	for _, layer := range []Var{e.base, e.Var, extra} {
		for k, v := range layer {
			if k == "" {
				continue
			}
			m[k] = v
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	sort.Strings(out)
	return out
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			break
		}
		j := strings.IndexByte(s[i:], '}')
		if j < 0 {
			break
		}
		name := s[i+2 : i+j]
		b.WriteString(s[:i])
		if v, ok := m[name]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[i : i+j+1])
		}
		s = s[i+j+1:]
	}
	b.WriteString(s)
	return b.String()
}
