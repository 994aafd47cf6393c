package render

import (
	"bytes"
	"strconv"

	"github.com/lsqkk/bili-card/internal/sanitize"
)

// Error codes shown on the error card.
const (
	CodeInvalidID    = 400
	CodeUserNotFound = 404
	CodeInternal     = 500
)

const errorFallback = `<svg xmlns="http://www.w3.org/2000/svg" width="400" height="120" viewBox="0 0 400 120"><rect width="400" height="120" rx="20" fill="#FFF1F0"/><text x="70" y="65" fill="#FF4D4F" font-family="sans-serif" font-size="18">500</text></svg>`

type errorData struct {
	Code    string
	Message string
}

// ErrorDocument renders the minimal error card. message is raw text.
func (r *Renderer) ErrorDocument(code int, message string) string {
	var buf bytes.Buffer
	err := r.tmpl.ExecuteTemplate(&buf, "error", errorData{
		Code:    strconv.Itoa(code),
		Message: sanitize.EscapeText(message),
	})
	if err != nil {
		return errorFallback
	}
	return buf.String()
}

// ProbeRow is one endpoint line of a diagnostic report. Fields are raw text.
type ProbeRow struct {
	Need      string
	Candidate string
	OK        bool
	Status    int
	Code      string
	Message   string
	LatencyMS int64
	Excerpt   string
}

// DiagnosticReport is the input of DiagnosticDocument.
type DiagnosticReport struct {
	UID   string
	Debug bool
	Rows  []ProbeRow
}

type diagnosticRow struct {
	Y       int
	Need    string
	Name    string
	OK      bool
	Detail  string
	Latency string
	Excerpt string
}

type diagnosticData struct {
	UID     string
	Height  int
	Passed  int
	Total   int
	Debug   bool
	Summary string
	Rows    []diagnosticRow
}

const (
	diagHeader = 110
	diagRow    = 44
	diagDebug  = 22
)

// DiagnosticDocument renders the upstream probe report as SVG.
func (r *Renderer) DiagnosticDocument(rep DiagnosticReport) (string, error) {
	data := diagnosticData{
		UID:   sanitize.EscapeText(rep.UID),
		Total: len(rep.Rows),
		Debug: rep.Debug,
	}

	rowHeight := diagRow
	if rep.Debug {
		rowHeight += diagDebug
	}

	y := diagHeader
	for _, row := range rep.Rows {
		if row.OK {
			data.Passed++
		}
		detail := "HTTP " + strconv.Itoa(row.Status)
		if row.Status == 0 {
			detail = "no response"
		}
		if row.Code != "" {
			detail += " · code " + row.Code
		}
		if row.Message != "" {
			detail += " · " + row.Message
		}
		dr := diagnosticRow{
			Y:       y,
			Need:    sanitize.EscapeText(row.Need),
			Name:    sanitize.EscapeText(row.Candidate),
			OK:      row.OK,
			Detail:  SplitText(sanitize.EscapeText(detail), 48, 1)[0],
			Latency: strconv.FormatInt(row.LatencyMS, 10) + " ms",
		}
		if rep.Debug {
			dr.Excerpt = SplitText(sanitize.EscapeText(row.Excerpt), 80, 1)[0]
		}
		data.Rows = append(data.Rows, dr)
		y += rowHeight
	}
	data.Height = y + 30
	data.Summary = strconv.Itoa(data.Passed) + "/" + strconv.Itoa(data.Total)

	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, "diagnose", data); err != nil {
		return "", &RenderError{Theme: "diagnose", Err: err}
	}
	return buf.String(), nil
}
