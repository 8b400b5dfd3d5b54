package roles

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Option describes a role entry for role picker UIs.
type Option struct {
	Role  Role   `json:"role"`
	Label string `json:"label"`
	Rank  int    `json:"rank"`
}

// Label returns the human readable name, e.g. "Super Admin".
func Label(r Role) string {
	return cases.Title(language.English).String(strings.ReplaceAll(string(r), "_", " "))
}

// Options converts roles into picker options preserving order.
func Options(rs []Role) []Option {
	out := make([]Option, 0, len(rs))
	for _, r := range rs {
		out = append(out, Option{Role: r, Label: Label(r), Rank: RankOf(r)})
	}
	return out
}
