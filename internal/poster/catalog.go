// Package poster owns the static poster catalog and the region codec used to
// split a poster into independently swappable halves.
package poster

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"server/internal/domain"
)

// Poster is one pre-defined composite image a user can swap themselves into.
// Which half holds the swappable subject is fixed per poster.
type Poster struct {
	ID       string
	Name     string
	Side     Side
	ImageKey string
}

// Catalog resolves poster identifiers to their side-selection policy.
type Catalog struct {
	posters map[string]Poster
}

var titler = cases.Title(language.English)

// NewCatalog builds the built-in poster table. Display names are derived
// from the identifiers.
func NewCatalog() *Catalog {
	entries := []struct {
		id   string
		side Side
	}{
		{"galaxy-guardian", SideRight},
		{"midnight-racer", SideLeft},
		{"neon-detective", SideRight},
		{"retro-astronaut", SideLeft},
		{"royal-duet", SideRight},
		{"summer-festival", SideLeft},
	}
	posters := make(map[string]Poster, len(entries))
	for _, e := range entries {
		posters[e.id] = Poster{
			ID:       e.id,
			Name:     titler.String(strings.ReplaceAll(e.id, "-", " ")),
			Side:     e.side,
			ImageKey: "posters/" + e.id + ".png",
		}
	}
	return &Catalog{posters: posters}
}

// Lookup resolves a poster id.
func (c *Catalog) Lookup(id string) (Poster, error) {
	p, ok := c.posters[strings.TrimSpace(strings.ToLower(id))]
	if !ok {
		return Poster{}, domain.ErrUnknownPoster
	}
	return p, nil
}

// List returns all posters ordered by id.
func (c *Catalog) List() []Poster {
	out := make([]Poster, 0, len(c.posters))
	for _, p := range c.posters {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
