package util

import "testing"

func TestParseSize(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{input: "100KB", want: 100 * 1024},
		{input: "64MB", want: 64 * 1024 * 1024},
		{input: "1.5GB", want: int64(1.5 * 1024 * 1024 * 1024)},
		{input: "100", wantErr: true},
		{input: "MB", wantErr: true},
		{input: "100mb", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseSize(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%q: expected error", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%q = %d, want %d", tt.input, got, tt.want)
		}
	}
}
