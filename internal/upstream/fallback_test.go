package upstream_test

import (
	"context"
	"errors"
	"testing"

	"github.com/goccy/go-json"

	"github.com/lsqkk/bili-card/internal/upstream"
)

// fakeGetter answers by candidate name without any network.
type fakeGetter struct {
	responses map[string]string
	calls     []string
}

func (f *fakeGetter) Get(_ context.Context, ep upstream.Endpoint) ([]byte, error) {
	f.calls = append(f.calls, ep.Name)
	body, ok := f.responses[ep.Name]
	if !ok {
		return nil, &upstream.FetchError{Candidate: ep.Name, Kind: upstream.KindStatus, Status: 503}
	}
	return []byte(body), nil
}

type named struct {
	Name string `json:"name"`
}

func decodeNamed(payload []byte) (named, error) {
	var n named
	if err := json.Unmarshal(payload, &n); err != nil {
		return n, err
	}
	if n.Name == "" {
		return n, errors.New("missing name")
	}
	return n, nil
}

func candidates(names ...string) []upstream.Candidate[named] {
	out := make([]upstream.Candidate[named], 0, len(names))
	for _, name := range names {
		out = append(out, upstream.Candidate[named]{
			Name: name,
			Endpoint: func(uid string) upstream.Endpoint {
				return upstream.Endpoint{URL: "http://example.invalid/" + uid}
			},
			Decode: decodeNamed,
		})
	}
	return out
}

func TestFallback_FirstSuccessWins(t *testing.T) {
	g := &fakeGetter{responses: map[string]string{
		"a": `{"name":"from-a"}`,
		"b": `{"name":"from-b"}`,
	}}

	res := upstream.Fallback(context.Background(), g, "2", candidates("a", "b"))
	if !res.OK || res.Value.Name != "from-a" || res.Source != "a" {
		t.Errorf("result = %+v", res)
	}
	if len(g.calls) != 1 {
		t.Errorf("calls = %v, want only the first candidate", g.calls)
	}
}

func TestFallback_FallsThrough(t *testing.T) {
	g := &fakeGetter{responses: map[string]string{
		"b": `{"wrong":"shape"}`,
		"c": `{"name":"from-c"}`,
	}}

	res := upstream.Fallback(context.Background(), g, "2", candidates("a", "b", "c"))
	if !res.OK || res.Source != "c" {
		t.Fatalf("result = %+v", res)
	}
	if len(res.Errors) != 2 {
		t.Fatalf("errors = %v, want 2", res.Errors)
	}
	if upstream.KindOf(res.Errors[0]) != upstream.KindStatus {
		t.Errorf("first error kind = %s", upstream.KindOf(res.Errors[0]))
	}
	if upstream.KindOf(res.Errors[1]) != upstream.KindDecode {
		t.Errorf("second error kind = %s", upstream.KindOf(res.Errors[1]))
	}
}

func TestFallback_AllFail(t *testing.T) {
	g := &fakeGetter{responses: map[string]string{}}

	res := upstream.Fallback(context.Background(), g, "2", candidates("a", "b", "c"))
	if res.OK {
		t.Fatal("expected OK=false")
	}
	if len(res.Errors) != 3 {
		t.Errorf("errors = %d, want 3", len(res.Errors))
	}
	if len(g.calls) != 3 {
		t.Errorf("calls = %v", g.calls)
	}
}

func TestFallback_CancelledContext(t *testing.T) {
	g := &fakeGetter{responses: map[string]string{"a": `{"name":"x"}`}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := upstream.Fallback(ctx, g, "2", candidates("a"))
	if res.OK {
		t.Fatal("expected OK=false on cancelled context")
	}
	if len(g.calls) != 0 {
		t.Errorf("calls = %v, want none", g.calls)
	}
}
