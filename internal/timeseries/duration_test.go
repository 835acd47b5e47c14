package timeseries

import (
	"errors"
	"testing"
	"time"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Duration
		wantErr bool
	}{
		{name: "seconds", input: "5s", want: 5 * time.Second},
		{name: "minutes", input: "2m", want: 2 * time.Minute},
		{name: "hours", input: "1h", want: time.Hour},
		{name: "days", input: "1d", want: 24 * time.Hour},
		{name: "milliseconds", input: "200ms", want: 200 * time.Millisecond},
		{name: "decimal", input: "1.5h", want: 90 * time.Minute},
		{name: "uppercase unit", input: "1D", want: 24 * time.Hour},
		{name: "surrounding space", input: " 30s ", want: 30 * time.Second},
		{name: "unknown unit", input: "5x", wantErr: true},
		{name: "missing number", input: "h", wantErr: true},
		{name: "missing unit", input: "15", wantErr: true},
		{name: "empty", input: "", wantErr: true},
		{name: "negative", input: "-5s", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDuration(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDuration(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidDuration) {
					t.Errorf("ParseDuration(%q) error = %v, want ErrInvalidDuration", tt.input, err)
				}
				return
			}
			if got != tt.want {
				t.Errorf("ParseDuration(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
