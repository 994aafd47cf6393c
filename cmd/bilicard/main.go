package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lsqkk/bili-card/internal/card"
	"github.com/lsqkk/bili-card/internal/config"
	"github.com/lsqkk/bili-card/internal/render"
	"github.com/lsqkk/bili-card/internal/resolver"
	"github.com/lsqkk/bili-card/internal/sanitize"
	"github.com/lsqkk/bili-card/internal/upstream"
	"github.com/lsqkk/bili-card/pkg/client"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile string
	verbose bool
	format  string

	cfg    *config.Config
	logger = zap.NewNop()
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "bilicard",
	Short: "bilibili profile card tool",
	Long: `bilicard renders bilibili profile cards locally, inspects the theme
catalog, probes the upstream APIs and fetches cards from a running server.

It reads the same configuration keys as cardserver.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			dev, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			logger = dev
		}
		loaded, err := config.Load(cfgFile, logger)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default configs/cardserver.yaml or ./cardserver.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log to stderr")
	rootCmd.PersistentFlags().StringVar(&format, "format", "text", "Output format: text or json")

	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(themesCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(versionCmd)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newPipeline() (*upstream.Client, *resolver.Resolver) {
	uc := upstream.New(cfg.UpstreamClient(), logger)
	images := sanitize.NewImageRewriter(sanitize.ImageOptions{
		Mode:          sanitize.Mode(cfg.Image.Mode),
		ProxyBase:     cfg.Image.ProxyBase,
		EmbedMaxBytes: cfg.Image.EmbedMaxBytes,
		EmbedTimeout:  cfg.Image.EmbedTimeout,
		UserAgent:     cfg.Upstream.UserAgent,
	}, logger)
	res := resolver.New(uc, images, resolver.Config{
		AggregatorBase: cfg.Upstream.AggregatorBase,
		APIBase:        cfg.Upstream.APIBase,
		UIDMinLen:      cfg.UID.MinLen,
		UIDMaxLen:      cfg.UID.MaxLen,
	}, logger)
	return uc, res
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ── render ───────────────────────────────────────────────────────────────────

var (
	renderTheme string
	renderColor string
	renderHide  string
	renderOut   string
)

var renderCmd = &cobra.Command{
	Use:   "render <uid> [uid] ...",
	Short: "Fetch profiles and write card SVGs without a server",
	Long: `Render resolves each uid against the upstream APIs and writes
<out>/<uid>.svg. Multiple uids are resolved concurrently:

  bilicard render --theme simple --color dark --hide popular,latest 2 208259`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRender,
}

func init() {
	renderCmd.Flags().StringVar(&renderTheme, "theme", "default", "Theme id")
	renderCmd.Flags().StringVar(&renderColor, "color", "", "Color palette id (default: theme default)")
	renderCmd.Flags().StringVar(&renderHide, "hide", "", "Comma list of sections to hide: signature,latest,popular,stats,followers")
	renderCmd.Flags().StringVarP(&renderOut, "out", "o", ".", "Output directory")
}

type renderRow struct {
	UID   string `json:"uid"`
	File  string `json:"file,omitempty"`
	Name  string `json:"name,omitempty"`
	Error string `json:"error,omitempty"`
}

func runRender(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	_, res := newPipeline()
	renderer, err := render.New()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(renderOut, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	theme := render.ResolveTheme(renderTheme)
	palette := render.ResolvePalette(theme, renderColor)
	display := card.DisplayConfig{
		Theme:      theme.ID,
		Color:      palette.ID,
		Visibility: card.ParseHide(renderHide),
	}

	results, err := res.ResolveMany(ctx, args, resolver.NeedsFor(theme, display.Visibility))
	if err != nil {
		return err
	}

	rows := make([]renderRow, len(results))
	failed := 0
	for i, r := range results {
		rows[i] = renderRow{UID: r.UID}
		if r.Error != nil {
			rows[i].Error = r.Error.Error()
			failed++
			continue
		}
		doc, err := renderer.Render(r.View, display)
		if err != nil {
			rows[i].Error = err.Error()
			failed++
			continue
		}
		path := filepath.Join(renderOut, r.UID+".svg")
		if err := os.WriteFile(path, []byte(doc), 0o644); err != nil { //nolint:gosec
			rows[i].Error = err.Error()
			failed++
			continue
		}
		rows[i].File = path
		rows[i].Name = r.View.Name
	}

	if format == "json" {
		if err := printJSON(rows); err != nil {
			return err
		}
	} else {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "UID\tNAME\tRESULT")
		for _, r := range rows {
			if r.Error != "" {
				fmt.Fprintf(w, "%s\t-\terror: %s\n", r.UID, r.Error)
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", r.UID, r.Name, r.File)
		}
		_ = w.Flush()
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d cards failed", failed, len(rows))
	}
	return nil
}

// ── themes ───────────────────────────────────────────────────────────────────

var themesCmd = &cobra.Command{
	Use:   "themes",
	Short: "List built-in themes and color palettes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if format == "json" {
			return printJSON(map[string]any{"themes": render.Themes(), "colors": render.Palettes()})
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "THEME\tSIZE\tSECTIONS\tDESCRIPTION")
		for _, t := range render.Themes() {
			fmt.Fprintf(w, "%s\t%dx%d\t%s\t%s\n", t.ID, t.Width, t.Height, strings.Join(t.Sections, ","), t.Description)
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, "COLOR\tNAME\tPRIMARY\tBACKGROUND")
		for _, p := range render.Palettes() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Primary, p.Background)
		}
		return w.Flush()
	},
}

// ── probe ────────────────────────────────────────────────────────────────────

var probeCmd = &cobra.Command{
	Use:   "probe <uid>",
	Short: "Request every upstream candidate for a uid and report the outcome",
	Long: `Probe issues one request to each upstream candidate used to build a
card, bypassing circuit breakers, and prints status, envelope code and latency.`,
	Args: cobra.ExactArgs(1),
	RunE: runProbe,
}

func runProbe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	uc, res := newPipeline()
	uid := args[0]
	if err := res.ValidateUID(uid); err != nil {
		return fmt.Errorf("uid %q: %w", uid, err)
	}

	type probeRow struct {
		Need string `json:"need"`
		upstream.Probe
	}
	var rows []probeRow
	for _, ep := range res.Endpoints(uid) {
		rows = append(rows, probeRow{Need: ep.Need, Probe: uc.Probe(ctx, ep.Endpoint)})
	}

	if format == "json" {
		return printJSON(rows)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NEED\tCANDIDATE\tOK\tSTATUS\tCODE\tLATENCY\tDETAIL")
	passed := 0
	for _, r := range rows {
		ok := "no"
		if r.OK {
			ok = "yes"
			passed++
		}
		detail := r.Message
		if detail == "" {
			detail = r.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			r.Need, r.Candidate, ok, r.Status, r.Code, r.Latency.Round(time.Millisecond), detail)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d/%d candidates passed\n", passed, len(rows))
	return nil
}

// ── fetch ────────────────────────────────────────────────────────────────────

var (
	fetchServer  string
	fetchTheme   string
	fetchColor   string
	fetchHide    string
	fetchOut     string
	fetchNoCache bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <uid>",
	Short: "Fetch a card from a running cardserver",
	Long: `Fetch requests /api/card from a cardserver and writes the SVG to
--out, or to stdout when --out is empty:

  bilicard fetch --server http://localhost:8080 --theme modern -o card.svg 2`,
	Args: cobra.ExactArgs(1),
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().StringVar(&fetchServer, "server", "", "cardserver base URL (default http://localhost:<server.port>)")
	fetchCmd.Flags().StringVar(&fetchTheme, "theme", "", "Theme id")
	fetchCmd.Flags().StringVar(&fetchColor, "color", "", "Color palette id")
	fetchCmd.Flags().StringVar(&fetchHide, "hide", "", "Comma list of sections to hide")
	fetchCmd.Flags().StringVarP(&fetchOut, "out", "o", "", "Output file")
	fetchCmd.Flags().BoolVar(&fetchNoCache, "no-cache", false, "Bypass the server response cache")
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	base := fetchServer
	if base == "" {
		base = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}
	c, err := client.New(base)
	if err != nil {
		return err
	}

	opts := client.CardOptions{Theme: fetchTheme, Color: fetchColor, NoCache: fetchNoCache}
	if fetchHide != "" {
		opts.Hide = strings.Split(fetchHide, ",")
	}

	result, err := c.Card(ctx, args[0], opts)
	if err != nil {
		return err
	}

	if fetchOut == "" {
		_, err = os.Stdout.Write(result.SVG)
	} else {
		err = os.WriteFile(fetchOut, result.SVG, 0o644) //nolint:gosec
		if err == nil {
			fmt.Fprintf(os.Stderr, "wrote %s (cache %s)\n", fetchOut, result.Cache)
		}
	}
	if err != nil {
		return err
	}
	if result.Failed {
		return fmt.Errorf("server returned an error card for uid %s", args[0])
	}
	return nil
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the bilicard CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("bilicard %s\n", version)
	},
}
