package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFormat(t *testing.T) {
	cases := map[int64]string{
		0:         "₺0,00",
		5:         "₺0,05",
		99:        "₺0,99",
		123450:    "₺1.234,50",
		100000000: "₺1.000.000,00",
		-250:      "-₺2,50",
	}
	for minor, want := range cases {
		assert.Equal(t, want, Format(minor), minor)
	}
}

func TestFromLira(t *testing.T) {
	cases := map[string]int64{
		"0":       0,
		"12.5":    1250,
		"1234.50": 123450,
		"19.999":  2000,
		"0.005":   1,
	}
	for in, want := range cases {
		assert.Equal(t, want, FromLira(decimal.RequireFromString(in)), in)
	}
	assert.Equal(t, "1234.5", ToLira(123450).String())
}
