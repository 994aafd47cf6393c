// Package render turns a ViewModel into a themed SVG document.
//
// Rendering is pure: the same ViewModel and DisplayConfig always yield the
// same bytes. Templates only ever see values escaped when the ViewModel was
// built, so they are plain text/template files.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"

	"github.com/lsqkk/bili-card/internal/card"
)

//go:embed templates/*.svg.tmpl
var templateFS embed.FS

// Section ids as used in the catalog's supports lists.
const (
	SectionSignature = "signature"
	SectionStats     = "stats"
	SectionFollowers = "followers"
	SectionLatest    = "latest"
	SectionPopular   = "popular"
)

// RenderError is a template execution failure.
type RenderError struct {
	Theme string
	Err   error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render theme %s: %v", e.Theme, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// Renderer executes the embedded theme templates.
type Renderer struct {
	tmpl *template.Template
}

// New parses the embedded templates.
func New() (*Renderer, error) {
	tmpl, err := template.New("card").Funcs(funcs).ParseFS(templateFS, "templates/*.svg.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	for _, t := range registry.themes {
		if tmpl.Lookup(t.ID) == nil {
			return nil, fmt.Errorf("theme %q has no template", t.ID)
		}
	}
	return &Renderer{tmpl: tmpl}, nil
}

// MustNew is New for package-level initialization.
func MustNew() *Renderer {
	r, err := New()
	if err != nil {
		panic(err)
	}
	return r
}

var funcs = template.FuncMap{
	"lineY": func(base, step, i int) int { return base + step*i },
	"add":   func(a, b int) int { return a + b },
	"slot":  newVideoSlot,
}

// videoSlot positions one video block inside a theme.
type videoSlot struct {
	ID    string
	Slot  string
	Y     int
	Label string
	Video *videoData
	P     Palette
}

func newVideoSlot(id, slot string, y int, label string, v *videoData, p Palette) videoSlot {
	return videoSlot{ID: id, Slot: slot, Y: y, Label: label, Video: v, P: p}
}

type sections struct {
	Signature bool
	Stats     bool
	Followers bool
	Latest    bool
	Popular   bool
}

type videoData struct {
	TitleLines []string
	Plays      string
	CoverURL   string
}

type cardData struct {
	ID             string
	Theme          Theme
	P              Palette
	Name           string
	UID            string
	AvatarURL      string
	Level          int
	Badge          string
	Show           sections
	SignatureLines []string
	Following      string
	Followers      string
	Likes          string
	Videos         string
	Latest         *videoData
	Popular        *videoData
}

// Render produces the SVG document for vm. Unknown theme or color ids fall
// back to the defaults.
func (r *Renderer) Render(vm *card.ViewModel, display card.DisplayConfig) (string, error) {
	theme := ResolveTheme(display.Theme)
	palette := ResolvePalette(theme, display.Color)
	vis := theme.Visible(display.Visibility)

	data := cardData{
		ID:        "c" + vm.UID,
		Theme:     theme,
		P:         palette,
		Name:      vm.Name,
		UID:       vm.UID,
		AvatarURL: vm.AvatarURL,
		Level:     vm.Level,
		Badge:     LevelBadge(vm.Level, palette.Accent),
		Show: sections{
			Signature: vis.Signature,
			Stats:     vis.Stats,
			Followers: vis.Followers,
			Latest:    vis.LatestVideo,
			Popular:   vis.PopularVideo,
		},
		Following: FormatCount(vm.FollowingCount),
		Followers: FormatCount(vm.FollowerCount),
		Likes:     FormatCount(vm.LikeCount),
		Videos:    FormatCount(vm.VideoCount),
	}
	if data.Show.Signature {
		data.SignatureLines = SplitText(vm.Signature, theme.Signature.MaxLen, theme.Signature.MaxLines)
	}
	if data.Show.Latest && vm.Video != nil {
		data.Latest = newVideoData(vm.Video, theme.Title)
	}
	if data.Show.Popular && vm.PopularVideo != nil {
		data.Popular = newVideoData(vm.PopularVideo, theme.Title)
	}

	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, theme.ID, data); err != nil {
		return "", &RenderError{Theme: theme.ID, Err: err}
	}
	return buf.String(), nil
}

func newVideoData(v *card.Video, box TextBox) *videoData {
	return &videoData{
		TitleLines: SplitText(v.Title, box.MaxLen, box.MaxLines),
		Plays:      FormatCount(v.PlayCount),
		CoverURL:   v.CoverURL,
	}
}
