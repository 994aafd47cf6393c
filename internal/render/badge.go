package render

import (
	"fmt"
	"strings"

	"github.com/lsqkk/bili-card/internal/card"
)

// levelColors are the platform's tier colors for LV0..LV6.
var levelColors = [...]string{
	"#BFBFBF",
	"#BFBFBF",
	"#95DDB2",
	"#92D1E5",
	"#FFB37C",
	"#FF6C00",
	"#FF0000",
}

const lightningPath = "M49 4L41 16H47L43 26L53 12H47L51 4Z"

// LevelBadge returns a 60x30 SVG fragment for level. Known tiers get the
// platform color, LV6 adds the lightning mark; anything else gets a generic
// badge in the palette accent.
func LevelBadge(level int, accent string) string {
	var b strings.Builder
	if level >= card.MinLevel && level <= card.MaxLevel {
		fmt.Fprintf(&b, `<rect width="60" height="30" rx="6" fill="%s"/>`, levelColors[level])
		fmt.Fprintf(&b, `<text x="%d" y="21" text-anchor="middle" font-family="Microsoft YaHei,sans-serif" font-weight="700" font-size="16" fill="#FFFFFF">LV%d</text>`,
			badgeTextX(level), level)
		if level == card.MaxLevel {
			b.WriteString(`<path d="` + lightningPath + `" fill="#FFE14D" stroke="#FFFFFF" stroke-width="1"/>`)
		}
		return b.String()
	}
	fmt.Fprintf(&b, `<rect width="60" height="30" rx="15" fill="%s"/>`, accent)
	fmt.Fprintf(&b, `<text x="30" y="21" text-anchor="middle" font-family="Microsoft YaHei,sans-serif" font-weight="700" font-size="16" fill="#FFFFFF">LV%d</text>`, level)
	return b.String()
}

// badgeTextX shifts the LV6 label left to make room for the lightning mark.
func badgeTextX(level int) int {
	if level == card.MaxLevel {
		return 24
	}
	return 30
}
