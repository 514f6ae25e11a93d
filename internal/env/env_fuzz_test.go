package env

import (
	"strings"
	"testing"
)

// FuzzMerge checks that Merge never emits malformed pairs and leaves plain
// values untouched.
func FuzzMerge(f *testing.F) {
	f.Add([]byte("A=1\nB=${A}-x"), []byte("C=${B}-y"))
	f.Add([]byte("FOO=bar"), []byte("FOO=${FOO}"))
	f.Add([]byte("X=$Y"), []byte("Y=${X}"))

	f.Fuzz(func(t *testing.T, globalB []byte, extraB []byte) {
		global := splitNZ(string(globalB))
		extra := splitNZ(string(extraB))
		if len(global) > 20 {
			global = global[:20]
		}
		if len(extra) > 20 {
			extra = extra[:20]
		}
		e := New()
		e.base = Var{}
		for k, v := range Parse(global) {
			e.Set(k, v)
		}
		out := e.Merge(Parse(extra))
		for _, kv := range out {
			if !strings.Contains(kv, "=") || strings.HasPrefix(kv, "=") {
				t.Fatalf("bad pair: %q", kv)
			}
		}
		if !strings.Contains(string(globalB)+string(extraB), "$") {
			for _, kv := range out {
				if strings.Contains(kv, "${") {
					t.Fatalf("unexpected expansion marker: %q", kv)
				}
			}
		}
	})
}

func splitNZ(s string) []string {
	var out []string
	for _, p := range strings.Split(s, "\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
