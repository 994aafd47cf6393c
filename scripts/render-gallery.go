//go:build ignore

// render-gallery.go renders every theme × palette combination for a sample
// profile into a directory, plus an index.html that shows them side by side.
//
// Run with: go run scripts/render-gallery.go [outdir]
package main

import (
	"fmt"
	"html"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/lsqkk/bili-card/internal/card"
	"github.com/lsqkk/bili-card/internal/render"
)

var sample = &card.ViewModel{
	UID:            "2",
	Name:           "碧诗",
	AvatarURL:      "https://i0.hdslb.com/bfs/face/ef0457addb24141e15dfac6fbf45293ccf1e32ab.jpg",
	Level:          6,
	Signature:      "嗨，这里是样例签名，用来检查换行与省略号在不同主题下的效果。",
	FollowerCount:  1234567,
	FollowingCount: 321,
	LikeCount:      98765,
	VideoCount:     42,
	Video: &card.Video{
		Title:     "最新投稿：一个用来测试标题折行的相当长的视频标题",
		PlayCount: 54321,
		CoverURL:  "https://i0.hdslb.com/bfs/archive/sample-latest.jpg",
	},
	PopularVideo: &card.Video{
		Title:     "最热投稿",
		PlayCount: 9876543,
		CoverURL:  "https://i0.hdslb.com/bfs/archive/sample-popular.jpg",
	},
}

type result struct {
	theme, color, file string
	err                error
}

func main() {
	out := "gallery"
	if len(os.Args) > 1 {
		out = os.Args[1]
	}
	if err := os.MkdirAll(out, 0o755); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	r := render.MustNew()
	themes := render.Themes()
	palettes := render.Palettes()

	var (
		mu      sync.Mutex
		results []result
		wg      sync.WaitGroup
	)
	for _, t := range themes {
		for _, p := range palettes {
			wg.Add(1)
			go func(t render.Theme, p render.Palette) {
				defer wg.Done()
				res := result{theme: t.ID, color: p.ID}
				doc, err := r.Render(sample, card.DisplayConfig{Theme: t.ID, Color: p.ID, Visibility: card.AllVisible()})
				if err == nil {
					res.file = t.ID + "-" + p.ID + ".svg"
					err = os.WriteFile(filepath.Join(out, res.file), []byte(doc), 0o644)
				}
				res.err = err
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
			}(t, p)
		}
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool {
		if results[i].theme != results[j].theme {
			return results[i].theme < results[j].theme
		}
		return results[i].color < results[j].color
	})

	var b strings.Builder
	b.WriteString("<!doctype html><meta charset=\"utf-8\"><title>bili-card gallery</title>\n")
	b.WriteString("<style>body{font-family:sans-serif;background:#f4f5f7}figure{display:inline-block;margin:12px}img{max-width:480px;border:1px solid #ddd}</style>\n")
	failed := 0
	current := ""
	for _, res := range results {
		if res.err != nil {
			failed++
			fmt.Printf("  ✗  %-8s %-7s %v\n", res.theme, res.color, res.err)
			continue
		}
		if res.theme != current {
			current = res.theme
			fmt.Fprintf(&b, "<h2>%s</h2>\n", html.EscapeString(current))
		}
		fmt.Fprintf(&b, "<figure><img src=\"%s\"><figcaption>%s / %s</figcaption></figure>\n",
			html.EscapeString(res.file), html.EscapeString(res.theme), html.EscapeString(res.color))
	}
	if err := os.WriteFile(filepath.Join(out, "index.html"), []byte(b.String()), 0o644); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fmt.Printf("\n%d cards rendered to %s (%d failed)\n", len(results)-failed, out, failed)
	if failed > 0 {
		os.Exit(1)
	}
}
