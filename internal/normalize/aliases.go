package normalize

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/teemow/receptionist/internal/dispatch"
)

// AliasTable maps platform-facing tool names to canonical tools. It is
// immutable once built.
type AliasTable struct {
	aliases map[string]dispatch.Tool
}

// defaultAliases are the names the voice agent is configured with.
var defaultAliases = map[string]dispatch.Tool{
	"Find-Earliest":           dispatch.ToolManageAppointment,
	"Find-By-Preference":      dispatch.ToolManageAppointment,
	"Find-Reschedule-Options": dispatch.ToolManageAppointment,
	"Confirm-Booking":         dispatch.ToolConfirmBooking,
	"Cancel-appointment":      dispatch.ToolCancelOrReschedule,
	"Lookup-Patient":          dispatch.ToolLookupPatient,
	"Send-Message":            dispatch.ToolSendMessage,
	"Route-Live":              dispatch.ToolRouteLive,
}

// DefaultAliases returns the built-in table. Every canonical name also maps
// to itself.
func DefaultAliases() *AliasTable {
	m := make(map[string]dispatch.Tool, len(defaultAliases)+len(dispatch.Tools()))
	for _, t := range dispatch.Tools() {
		m[t.String()] = t
	}
	for name, t := range defaultAliases {
		m[name] = t
	}
	return &AliasTable{aliases: m}
}

// NewAliasTable builds a table from name → canonical tool name pairs.
func NewAliasTable(entries map[string]string) (*AliasTable, error) {
	m := make(map[string]dispatch.Tool, len(entries))
	for name, target := range entries {
		if name == "" {
			return nil, fmt.Errorf("alias for %q has an empty name", target)
		}
		t, ok := dispatch.ParseTool(target)
		if !ok {
			return nil, fmt.Errorf("alias %q targets unknown tool %q", name, target)
		}
		m[name] = t
	}
	return &AliasTable{aliases: m}, nil
}

// aliasFile is the on-disk format.
type aliasFile struct {
	// Replace drops the built-in aliases instead of extending them.
	Replace bool              `yaml:"replace"`
	Aliases map[string]string `yaml:"aliases"`
}

// LoadAliases reads a YAML alias file and merges it over DefaultAliases.
// Canonical names always resolve to themselves.
func LoadAliases(path string) (*AliasTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read alias file: %w", err)
	}
	return ParseAliases(data)
}

// ParseAliases is LoadAliases for in-memory YAML.
func ParseAliases(data []byte) (*AliasTable, error) {
	var f aliasFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse alias file: %w", err)
	}

	extra, err := NewAliasTable(f.Aliases)
	if err != nil {
		return nil, err
	}

	base := DefaultAliases()
	if f.Replace {
		base = &AliasTable{aliases: make(map[string]dispatch.Tool)}
		for _, t := range dispatch.Tools() {
			base.aliases[t.String()] = t
		}
	}
	for name, t := range extra.aliases {
		base.aliases[name] = t
	}
	return base, nil
}

// Resolve returns the canonical tool for name.
func (a *AliasTable) Resolve(name string) (dispatch.Tool, bool) {
	t, ok := a.aliases[name]
	return t, ok
}

// Names returns all known names, sorted.
func (a *AliasTable) Names() []string {
	names := make([]string, 0, len(a.aliases))
	for name := range a.aliases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of names in the table.
func (a *AliasTable) Len() int {
	return len(a.aliases)
}
