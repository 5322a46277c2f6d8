package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDurationUnmarshalYAML(t *testing.T) {
	tests := []struct {
		name     string
		yaml     string
		expected time.Duration
	}{
		{"seconds", `"30s"`, 30 * time.Second},
		{"hours", `"6h"`, 6 * time.Hour},
		{"days", `"7d"`, 7 * 24 * time.Hour},
		{"weeks", `"2w"`, 14 * 24 * time.Hour},
		{"fractional days", `"1.5d"`, 36 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Duration
			require.NoError(t, yaml.Unmarshal([]byte(tt.yaml), &d))
			assert.Equal(t, tt.expected, d.ToDuration())
		})
	}
}

func TestDurationUnmarshalYAMLInvalid(t *testing.T) {
	var d Duration
	err := yaml.Unmarshal([]byte(`"6 hours"`), &d)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestDurationJSONRoundTrip(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"30d"`)))
	assert.Equal(t, 30*24*time.Hour, d.ToDuration())

	// Nanosecond numbers still accepted.
	require.NoError(t, d.UnmarshalJSON([]byte(`1000000000`)))
	assert.Equal(t, time.Second, d.ToDuration())
}

func TestPageTypeDefaultTTL(t *testing.T) {
	assert.Equal(t, 6*time.Hour, PageTypeList.DefaultTTL())
	assert.Equal(t, 7*24*time.Hour, PageTypeDetail.DefaultTTL())
	assert.Equal(t, 30*24*time.Hour, PageTypeImage.DefaultTTL())
	// Unknown types fall back to the shortest lifetime.
	assert.Equal(t, 6*time.Hour, PageType("unknown").DefaultTTL())
}

func TestPageTypeValid(t *testing.T) {
	assert.True(t, PageTypeList.Valid())
	assert.True(t, PageTypeDetail.Valid())
	assert.True(t, PageTypeImage.Valid())
	assert.False(t, PageType("feed").Valid())
}

func TestValidCompression(t *testing.T) {
	assert.True(t, ValidCompression(CompressionNone))
	assert.True(t, ValidCompression(CompressionSnappy))
	assert.True(t, ValidCompression(CompressionLZ4))
	assert.True(t, ValidCompression(""))
	assert.False(t, ValidCompression("gzip"))
}
