package assets

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"hionago/internal/domain"
)

// Table is one complete scan result: per-character expression code to
// filename, for both asset kinds. Codes are purely positional (the Nth
// matching file in lexicographic order becomes code "(N-1).0") and are
// recomputed from scratch on every rescan.
type Table struct {
	ActiveMode string                                   `json:"active_mode"`
	Static     map[domain.CharacterID]map[string]string `json:"links"`
	Live2D     map[domain.CharacterID]map[string]string `json:"l2d_links"`
}

var staticExtensions = []string{".png", ".jpg", ".jpeg", ".gif"}

const (
	live2dPrefix = "live2d_expression"
	live2dSuffix = ".exp3.json"
)

// Index resolves (character, code) pairs to asset filenames. The table
// is a read-mostly snapshot swapped wholesale by Rebuild; lookups never
// see a half-built scan.
type Index struct {
	spriteDir   string
	modelDir    string
	modelPath   string
	roster      domain.Roster
	defaultChar domain.CharacterID
	logger      *slog.Logger

	mu    sync.RWMutex
	table Table
}

func NewIndex(spriteDir, modelDir, modelPath string, roster domain.Roster, defaultChar domain.CharacterID, logger *slog.Logger) *Index {
	if _, ok := roster.ByID(defaultChar); !ok {
		defaultChar = roster.Default
	}
	return &Index{
		spriteDir:   spriteDir,
		modelDir:    modelDir,
		modelPath:   modelPath,
		roster:      roster,
		defaultChar: defaultChar,
		logger:      logger,
		table:       emptyTable(roster, "static"),
	}
}

// SetRoster replaces the roster used for attribution. Takes effect on
// the next Rebuild.
func (i *Index) SetRoster(roster domain.Roster, defaultChar domain.CharacterID) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.roster = roster
	if _, ok := roster.ByID(defaultChar); ok {
		i.defaultChar = defaultChar
	} else {
		i.defaultChar = roster.Default
	}
}

// UseStatic reports whether the sprite fallback mode is active, which
// is simply "the Live2D model file is missing".
func (i *Index) UseStatic() bool {
	_, err := os.Stat(i.modelPath)
	return err != nil
}

// Rebuild rescans both asset directories and swaps in a fresh table.
// Unreadable directories yield empty maps, never an error: a missing
// asset only means the visual does not update.
func (i *Index) Rebuild() Table {
	i.mu.RLock()
	roster, defaultChar := i.roster, i.defaultChar
	i.mu.RUnlock()

	table := emptyTable(roster, "static")
	if !i.UseStatic() {
		table.ActiveMode = "l2d"
	}

	static := listFiles(i.spriteDir, func(name string) bool {
		lower := strings.ToLower(name)
		for _, ext := range staticExtensions {
			if strings.HasSuffix(lower, ext) {
				return true
			}
		}
		return false
	})
	assignCodes(table.Static, static, roster, defaultChar)

	live2d := listFiles(i.modelDir, func(name string) bool {
		lower := strings.ToLower(name)
		return strings.HasPrefix(lower, live2dPrefix) && strings.HasSuffix(lower, live2dSuffix)
	})
	assignCodes(table.Live2D, live2d, roster, defaultChar)

	i.mu.Lock()
	i.table = table
	i.mu.Unlock()

	i.logger.Info("asset index rebuilt",
		"mode", table.ActiveMode,
		"static_files", len(static),
		"live2d_files", len(live2d),
	)
	return table
}

// Lookup returns the filename for (speaker, code) in the active asset
// kind, falling back to the neutral "0.0" asset and then to empty.
// Empty means "do not update the visual".
func (i *Index) Lookup(speaker domain.CharacterID, code string) string {
	i.mu.RLock()
	defer i.mu.RUnlock()

	links := i.table.Static
	if i.table.ActiveMode == "l2d" {
		links = i.table.Live2D
	}
	perChar, ok := links[speaker]
	if !ok {
		return ""
	}
	if file, ok := perChar[code]; ok && file != "" {
		return file
	}
	return perChar["0.0"]
}

// Snapshot returns the current table for write-back into settings.
func (i *Index) Snapshot() Table {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.table
}

// assignCodes attributes each sorted filename to a character and hands
// out positional codes per character.
//
// Attribution matches the character whose id appears in the filename
// (case-insensitive), walking the roster with the default character
// tried last; anything matching nobody goes to the default. With two
// characters this reproduces the historical "not the other one's marker
// means the default" rule, ambiguous filenames included, which existing
// user sprite folders were tagged under.
func assignCodes(out map[domain.CharacterID]map[string]string, files []string, roster domain.Roster, defaultChar domain.CharacterID) {
	sort.Strings(files)
	counters := map[domain.CharacterID]int{}
	for _, f := range files {
		char := attribute(f, roster, defaultChar)
		code := fmt.Sprintf("%.1f", float64(counters[char]))
		if out[char] == nil {
			out[char] = map[string]string{}
		}
		out[char][code] = f
		counters[char]++
	}
}

func attribute(filename string, roster domain.Roster, defaultChar domain.CharacterID) domain.CharacterID {
	lower := strings.ToLower(filename)
	for _, c := range roster.Characters {
		if c.ID == defaultChar {
			continue
		}
		if strings.Contains(lower, strings.ToLower(string(c.ID))) {
			return c.ID
		}
	}
	return defaultChar
}

func listFiles(dir string, keep func(string) bool) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if keep(e.Name()) {
			out = append(out, e.Name())
		}
	}
	return out
}

func emptyTable(roster domain.Roster, mode string) Table {
	t := Table{
		ActiveMode: mode,
		Static:     map[domain.CharacterID]map[string]string{},
		Live2D:     map[domain.CharacterID]map[string]string{},
	}
	for _, c := range roster.Characters {
		t.Static[c.ID] = map[string]string{}
		t.Live2D[c.ID] = map[string]string{}
	}
	return t
}
