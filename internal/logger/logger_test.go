package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]level{
		"debug":   levelDebug,
		"TRACE":   levelDebug,
		"warn":    levelWarn,
		"warning": levelWarn,
		"error":   levelError,
		"info":    levelInfo,
		"":        levelInfo,
		"bogus":   levelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseLevel(in), "level %q", in)
	}
}

func TestSetLevel(t *testing.T) {
	defer SetLevel("info")

	SetLevel("error")
	assert.False(t, enabled(levelInfo))
	assert.True(t, enabled(levelError))

	SetLevel("debug")
	assert.True(t, enabled(levelDebug))
}
