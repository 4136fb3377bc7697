package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDays(t *testing.T) {
	cases := []struct {
		name string
		args []string
		want int
		ok   bool
	}{
		{"missing uses default", nil, 30, true},
		{"explicit", []string{"7"}, 7, true},
		{"one", []string{"1"}, 1, true},
		{"clamped to max", []string{"99999"}, 3650, true},
		{"zero rejected", []string{"0"}, 0, false},
		{"negative rejected", []string{"-3"}, 0, false},
		{"non numeric rejected", []string{"week"}, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := parseDays(tc.args)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		token string
		want  int64
		ok    bool
	}{
		{"125.50", 12550, true},
		{"125,50", 12550, true},
		{"100", 10000, true},
		{"0.5", 50, true},
		{"0.05", 5, true},
		{".5", 50, true},
		{"7.", 700, true},
		{"0", 0, false},
		{"0.00", 0, false},
		{"-5", 0, false},
		{"+5", 0, false},
		{"1.234", 0, false},
		{"92233720368547757", 9223372036854775700, true},
		{"92233720368547758", 0, false},
		{"92233720368547758.07", 0, false},
		{"abc", 0, false},
		{"1.2a", 0, false},
		{"", 0, false},
		{".", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.token, func(t *testing.T) {
			got, ok := parseAmount(tc.token)
			assert.Equal(t, tc.ok, ok, "token %q", tc.token)
			if tc.ok {
				assert.Equal(t, tc.want, got, "token %q", tc.token)
			}
		})
	}
}
