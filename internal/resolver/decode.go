package resolver

import (
	"bytes"
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// flexInt accepts numbers, numeric strings, abbreviated counts like "1.2万",
// null, and placeholders like "--". Upstream shapes are inconsistent about
// which they send.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = parseCount(s)
		return nil
	}
	n, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}

func (f flexInt) count() int64 {
	if f < 0 {
		return 0
	}
	return int64(f)
}

// cjkUnits are the magnitude suffixes the aggregator uses for large counts.
var cjkUnits = []struct {
	suffix string
	scale  float64
}{
	{"亿", 1e8},
	{"万", 1e4},
}

// parseCount reads a count string; anything unparseable is 0.
func parseCount(s string) flexInt {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	scale := 1.0
	for _, u := range cjkUnits {
		if rest, ok := strings.CutSuffix(s, u.suffix); ok {
			s, scale = strings.TrimSpace(rest), u.scale
			break
		}
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return flexInt(math.Round(n * scale))
}
