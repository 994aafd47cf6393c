package render

import (
	_ "embed"
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lsqkk/bili-card/internal/card"
)

//go:embed catalog.yaml
var catalogYAML []byte

// TextBox bounds a wrapped text block. MaxLen counts glyphs per line.
type TextBox struct {
	MaxLen   int `yaml:"max_len" json:"max_len"`
	MaxLines int `yaml:"max_lines" json:"max_lines"`
}

// Theme is one registered card layout.
type Theme struct {
	ID             string   `yaml:"id" json:"id"`
	Name           string   `yaml:"name" json:"name"`
	Description    string   `yaml:"description" json:"description"`
	Width          int      `yaml:"width" json:"width"`
	Height         int      `yaml:"height" json:"height"`
	DefaultPalette string   `yaml:"default_palette" json:"default_palette"`
	Signature      TextBox  `yaml:"signature" json:"signature"`
	Title          TextBox  `yaml:"title" json:"title"`
	Sections       []string `yaml:"supports" json:"supports"`
	Counts         []string `yaml:"counts" json:"counts"`
}

// Palette is a named color scheme usable with any theme.
type Palette struct {
	ID         string `yaml:"id" json:"id"`
	Name       string `yaml:"name" json:"name"`
	Background string `yaml:"background" json:"background"`
	Primary    string `yaml:"primary" json:"primary"`
	Secondary  string `yaml:"secondary" json:"secondary"`
	Stroke     string `yaml:"stroke" json:"stroke"`
	Text       string `yaml:"text" json:"text"`
	Text2      string `yaml:"text2" json:"text2"`
	CardBg     string `yaml:"card_bg" json:"card_bg"`
	Accent     string `yaml:"accent" json:"accent"`
}

type catalogFile struct {
	DefaultTheme string    `yaml:"default_theme"`
	Themes       []Theme   `yaml:"themes"`
	Palettes     []Palette `yaml:"palettes"`
}

type catalog struct {
	defaultTheme string
	themes       []Theme
	palettes     []Palette
	themeByID    map[string]Theme
	paletteByID  map[string]Palette
}

var registry = mustLoadCatalog(catalogYAML)

func mustLoadCatalog(data []byte) *catalog {
	c, err := loadCatalog(data)
	if err != nil {
		panic(fmt.Sprintf("render: embedded catalog: %v", err))
	}
	return c
}

func loadCatalog(data []byte) (*catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	c := &catalog{
		defaultTheme: f.DefaultTheme,
		themes:       f.Themes,
		palettes:     f.Palettes,
		themeByID:    make(map[string]Theme, len(f.Themes)),
		paletteByID:  make(map[string]Palette, len(f.Palettes)),
	}

	for i := range c.palettes {
		p := &c.palettes[i]
		if p.Text2 == "" {
			p.Text2 = p.Text
		}
		if _, dup := c.paletteByID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate palette %q", p.ID)
		}
		c.paletteByID[p.ID] = *p
	}
	for _, t := range c.themes {
		if _, dup := c.themeByID[t.ID]; dup {
			return nil, fmt.Errorf("duplicate theme %q", t.ID)
		}
		if _, ok := c.paletteByID[t.DefaultPalette]; !ok {
			return nil, fmt.Errorf("theme %q: unknown default palette %q", t.ID, t.DefaultPalette)
		}
		for _, n := range t.Counts {
			switch n {
			case card.CountFollowing, card.CountLikes, card.CountVideos:
			default:
				return nil, fmt.Errorf("theme %q: unknown count %q", t.ID, n)
			}
		}
		c.themeByID[t.ID] = t
	}
	if _, ok := c.themeByID[c.defaultTheme]; !ok {
		return nil, fmt.Errorf("unknown default theme %q", c.defaultTheme)
	}
	return c, nil
}

// Themes returns every registered theme in catalog order.
func Themes() []Theme {
	return append([]Theme(nil), registry.themes...)
}

// Palettes returns every registered palette in catalog order.
func Palettes() []Palette {
	return append([]Palette(nil), registry.palettes...)
}

// LookupTheme reports whether id names a registered theme.
func LookupTheme(id string) (Theme, bool) {
	t, ok := registry.themeByID[strings.ToLower(strings.TrimSpace(id))]
	return t, ok
}

// LookupPalette reports whether id names a registered palette.
func LookupPalette(id string) (Palette, bool) {
	p, ok := registry.paletteByID[strings.ToLower(strings.TrimSpace(id))]
	return p, ok
}

// ResolveTheme maps id to a theme, falling back to the default theme.
func ResolveTheme(id string) Theme {
	if t, ok := LookupTheme(id); ok {
		return t
	}
	return registry.themeByID[registry.defaultTheme]
}

// ResolvePalette maps id to a palette, falling back to the theme's default.
func ResolvePalette(t Theme, id string) Palette {
	if p, ok := LookupPalette(id); ok {
		return p
	}
	return registry.paletteByID[t.DefaultPalette]
}

// Supports reports whether the theme has a slot for section.
func (t Theme) Supports(section string) bool {
	return slices.Contains(t.Sections, section)
}

// ShowsCount reports whether the stats section prints the named count.
func (t Theme) ShowsCount(count string) bool {
	return slices.Contains(t.Counts, count)
}

// Visible masks v down to the sections the theme actually draws.
func (t Theme) Visible(v card.Visibility) card.Visibility {
	return card.Visibility{
		Signature:    v.Signature && t.Supports(SectionSignature),
		LatestVideo:  v.LatestVideo && t.Supports(SectionLatest),
		PopularVideo: v.PopularVideo && t.Supports(SectionPopular),
		Stats:        v.Stats && t.Supports(SectionStats),
		Followers:    v.Followers && t.Supports(SectionFollowers),
	}
}
