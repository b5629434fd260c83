package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/srg/mwrpc/internal/device"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const rosterFile = "mwboards.cfg"

// defaultRoster is written when no roster file exists yet.
var defaultRoster = []string{
	"EC:31:87:17:9E:BD",
	"D6:0E:AB:0D:C3:1E",
	"FF:DF:FA:75:18:D5",
	"D2:EA:9E:58:5F:2F",
}

// Roster is the ordered, duplicate-free set of boards the daemon keeps connected.
//
// The file holds one address per line. Empty lines and lines containing '#'
// are skipped.
type Roster struct {
	Path   string
	boards *orderedmap.OrderedMap[device.Address, int]
}

// DefaultRosterPath is mwboards.cfg in the user config directory.
func DefaultRosterPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user config dir: %w", err)
	}
	return filepath.Join(dir, appDir, rosterFile), nil
}

// LoadRoster reads the roster at path, or at DefaultRosterPath when path is
// empty. A missing file is created with the default boards first.
func LoadRoster(path string) (*Roster, error) {
	if path == "" {
		p, err := DefaultRosterPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := writeDefaultRoster(path); err != nil {
			return nil, err
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open roster: %w", err)
	}
	defer f.Close()

	r, err := ParseRoster(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	r.Path = path
	return r, nil
}

func writeDefaultRoster(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create roster dir: %w", err)
	}
	content := strings.Join(defaultRoster, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write default roster: %w", err)
	}
	return nil
}

// ParseRoster reads roster lines from r.
func ParseRoster(r io.Reader) (*Roster, error) {
	roster := &Roster{boards: orderedmap.New[device.Address, int]()}

	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.Contains(line, "#") {
			continue
		}

		addr, err := device.ParseAddress(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		if _, dup := roster.boards.Get(addr); !dup {
			roster.boards.Set(addr, n)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read roster: %w", err)
	}
	return roster, nil
}

// Addresses returns the boards in file order.
func (r *Roster) Addresses() []device.Address {
	out := make([]device.Address, 0, r.boards.Len())
	for pair := r.boards.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}

func (r *Roster) Len() int {
	return r.boards.Len()
}

// Contains reports whether addr is in the roster.
func (r *Roster) Contains(addr device.Address) bool {
	_, ok := r.boards.Get(addr)
	return ok
}

func (r *Roster) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Desired boards (%d):", r.Len())
	for pair := r.boards.Oldest(); pair != nil; pair = pair.Next() {
		fmt.Fprintf(&b, "\n  %s", pair.Key)
	}
	return b.String()
}
