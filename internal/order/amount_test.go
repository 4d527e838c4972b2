package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want Amount
		str  string
	}{
		{"12", 1200, "12.00"},
		{"12.5", 1250, "12.50"},
		{"99.9", 9990, "99.90"},
		{"0.05", 5, "0.05"},
		{" 7.25 ", 725, "7.25"},
	}
	for _, tt := range tests {
		got, err := ParseAmount(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.str, got.String())
	}
}

func TestParseAmount_Invalid(t *testing.T) {
	for _, in := range []string{"", "-1", "1.", ".5", "1.234", "abc", "1,5"} {
		_, err := ParseAmount(in)
		assert.Error(t, err, in)
	}
}
