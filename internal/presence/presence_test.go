package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrackerSetAndReplace(t *testing.T) {
	tr := New()
	changes := 0
	tr.OnChange(func() { changes++ })

	tr.Set("u2", true)
	tr.Set("u1", true)
	tr.Set("u1", true)
	assert.True(t, tr.Online("u1"))
	assert.Equal(t, []string{"u1", "u2"}, tr.IDs())
	assert.Equal(t, 2, changes, "repeated online does not notify")

	tr.Set("u2", false)
	assert.False(t, tr.Online("u2"))
	tr.Set("", true)
	assert.Equal(t, []string{"u1"}, tr.IDs())

	tr.Replace([]string{"u5", "", "u4"})
	assert.Equal(t, []string{"u4", "u5"}, tr.IDs())
	assert.False(t, tr.Online("u1"))
	assert.Equal(t, 4, changes)
}
