package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	tests := []struct {
		name    string
		pairs   []string
		want    map[string]string
		wantErr bool
	}{
		{
			name:  "empty input",
			pairs: nil,
			want:  nil,
		},
		{
			name:  "single pair",
			pairs: []string{"retries=3"},
			want:  map[string]string{"retries": "3"},
		},
		{
			name:  "multiple pairs",
			pairs: []string{"retries=3", "region=eu"},
			want:  map[string]string{"retries": "3", "region": "eu"},
		},
		{
			name:  "value containing equals",
			pairs: []string{"query=a=b"},
			want:  map[string]string{"query": "a=b"},
		},
		{
			name:  "entries without separator are skipped",
			pairs: []string{"retries=3", "garbage"},
			want:  map[string]string{"retries": "3"},
		},
		{
			name:    "empty key",
			pairs:   []string{"=3"},
			wantErr: true,
		},
		{
			name:    "empty value",
			pairs:   []string{"retries="},
			wantErr: true,
		},
		{
			name:    "nothing usable",
			pairs:   []string{"garbage", "more-garbage"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseConfig(tt.pairs)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
