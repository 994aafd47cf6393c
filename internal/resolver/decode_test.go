package resolver

import (
	"testing"

	"github.com/goccy/go-json"
)

func TestFlexInt(t *testing.T) {
	tests := []struct {
		raw  string
		want int64
	}{
		{`12345`, 12345},
		{`"678"`, 678},
		{`"1.2万"`, 12000},
		{`"12.3万"`, 123000},
		{`"3亿"`, 300000000},
		{`"1,024"`, 1024},
		{`"--"`, 0},
		{`""`, 0},
		{`null`, 0},
		{`-5`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			var f flexInt
			if err := json.Unmarshal([]byte(tt.raw), &f); err != nil {
				t.Fatalf("Unmarshal(%s): %v", tt.raw, err)
			}
			if got := f.count(); got != tt.want {
				t.Errorf("count(%s) = %d, want %d", tt.raw, got, tt.want)
			}
		})
	}
}
