package upstream

import (
	"context"
)

// Getter fetches one candidate payload. *Client implements it.
type Getter interface {
	Get(ctx context.Context, ep Endpoint) ([]byte, error)
}

// Candidate binds an upstream endpoint to a decoder for its response shape.
type Candidate[T any] struct {
	Name     string
	Endpoint func(uid string) Endpoint
	Decode   func(payload []byte) (T, error)
}

// Result is the outcome of a fallback chain. OK is false when every candidate
// failed; that is a normal value, not an error.
type Result[T any] struct {
	Value  T
	Source string
	OK     bool
	Errors []error
}

// Fallback tries candidates in priority order and returns the first that both
// fetches and decodes. Later candidates are never consulted once one succeeds.
func Fallback[T any](ctx context.Context, g Getter, uid string, candidates []Candidate[T]) Result[T] {
	var res Result[T]
	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			res.Errors = append(res.Errors, &FetchError{Candidate: cand.Name, Kind: KindTransport, Err: err})
			break
		}

		ep := cand.Endpoint(uid)
		ep.Name = cand.Name

		payload, err := g.Get(ctx, ep)
		if err != nil {
			res.Errors = append(res.Errors, err)
			continue
		}

		v, err := cand.Decode(payload)
		if err != nil {
			res.Errors = append(res.Errors, &FetchError{Candidate: cand.Name, Kind: KindDecode, Err: err})
			continue
		}

		res.Value = v
		res.Source = cand.Name
		res.OK = true
		return res
	}
	return res
}
