package upstream

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"
)

const probeExcerptLen = 120

// Probe is the diagnostic outcome of a single endpoint request.
type Probe struct {
	Candidate string        `json:"candidate"`
	URL       string        `json:"url"`
	OK        bool          `json:"ok"`
	Status    int           `json:"status,omitempty"`
	Kind      Kind          `json:"kind,omitempty"`
	Code      string        `json:"code,omitempty"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency"`
	Excerpt   string        `json:"excerpt,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Probe issues one request to ep bypassing the candidate's breaker, so the
// report reflects the upstream as it is right now.
func (c *Client) Probe(ctx context.Context, ep Endpoint) Probe {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	p := Probe{Candidate: ep.Name, URL: ep.URL}

	status, body, err := c.send(ctx, ep)
	p.Latency = time.Since(start)
	p.Status = status
	p.Excerpt = excerpt(body)
	if err == nil && (status < 200 || status > 299) {
		err = &FetchError{Candidate: ep.Name, Kind: KindStatus, Status: status}
	}
	if err == nil {
		_, err = unwrap(ep.Name, body)
	}

	if err != nil {
		p.Kind = KindOf(err)
		p.Error = err.Error()
		var fe *FetchError
		if errors.As(err, &fe) {
			p.Code = fe.Code
			p.Message = fe.Message
		}
		return p
	}

	p.OK = true
	return p
}

func excerpt(body []byte) string {
	if len(body) <= probeExcerptLen {
		return string(body)
	}
	cut := body[:probeExcerptLen]
	for len(cut) > 0 && !utf8.Valid(cut) {
		cut = cut[:len(cut)-1]
	}
	return string(cut) + "..."
}
