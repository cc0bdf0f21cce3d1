package ui

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"", FormatPretty, false},
		{"pretty", FormatPretty, false},
		{"json", FormatJSON, false},
		{"yaml", "", true},
	}

	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestSetGlobalFormatter(t *testing.T) {
	t.Cleanup(func() { GlobalFormatter = NewPrettyFormatter() })

	require.NoError(t, SetGlobalFormatter(FormatJSON))
	assert.True(t, GlobalFormatter.IsJSON())

	require.NoError(t, SetGlobalFormatter(FormatPretty))
	assert.False(t, GlobalFormatter.IsJSON())

	assert.Error(t, SetGlobalFormatter("yaml"))
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		seconds int
		want    string
	}{
		{30, "< 1m"},
		{90, "1m"},
		{3700, "1h"},
		{90000, "1d"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(time.Duration(tt.seconds)*time.Second))
	}
}
