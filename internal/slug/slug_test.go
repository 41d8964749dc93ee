package slug

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMake(t *testing.T) {
	cases := map[string]string{
		"Strengths and Difficulties": "strengths-and-difficulties",
		"  DASS-21 (Kurzform)  ":     "dass-21-kurzform",
		"Ängste & Sorgen":            "angste-sorgen",
		"!!!":                        "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Make(in), in)
	}
	long := Make(strings.Repeat("ab ", 100))
	assert.LessOrEqual(t, len(long), 120)
	assert.True(t, Valid(long))
}

func TestValid(t *testing.T) {
	assert.True(t, Valid("sdq-4-16"))
	assert.False(t, Valid("SDQ"))
	assert.False(t, Valid("-x"))
	assert.False(t, Valid("a--b"))
	assert.False(t, Valid(""))
}
