package env

import (
	"bufio"
	"errors"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/subosito/gotenv"

	"github.com/loykin/remoto/internal/process"
)

// ReadFile parses a dotenv file. A missing file reads as empty.
func ReadFile(path string) (Var, error) {
	v, err := gotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Var{}, nil
		}
		return nil, err
	}
	return Var(v), nil
}

// UpdateFile rewrites the given keys in a dotenv file in place, keeping every
// other line (comments, ordering, unrelated keys) exactly as it was. Keys not
// yet present are appended in name order. The file is created if missing.
func UpdateFile(path string, updates Var) error {
	// #nosec G304 -- env file path comes from configuration
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	pending := make(Var, len(updates))
	for k, v := range updates {
		pending[k] = v
	}

	var lines []string
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if k := lineKey(line); k != "" {
			if v, ok := updates[k]; ok {
				if _, first := pending[k]; first {
					l, err := formatLine(k, v)
					if err != nil {
						return err
					}
					lines = append(lines, l)
					delete(pending, k)
				}
				// drop duplicate definitions of an updated key
				continue
			}
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return err
	}

	keys := make([]string, 0, len(pending))
	for k := range pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		l, err := formatLine(k, pending[k])
		if err != nil {
			return err
		}
		lines = append(lines, l)
	}

	out := strings.Join(lines, "\n")
	if len(lines) > 0 {
		out += "\n"
	}
	return process.WriteFileAtomic(path, []byte(out), 0o600)
}

// lineKey returns the key a dotenv line assigns, or "" for comments, blanks
// and anything gotenv cannot parse.
func lineKey(line string) string {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return ""
	}
	parsed, err := gotenv.Unmarshal(trimmed)
	if err != nil || len(parsed) != 1 {
		return ""
	}
	for k := range parsed {
		return k
	}
	return ""
}

func formatLine(k, v string) (string, error) {
	return gotenv.Marshal(gotenv.Env{k: v})
}
