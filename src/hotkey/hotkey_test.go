package hotkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCombo(t *testing.T) {
	tests := []struct {
		in    string
		names string
		codes [][]uint16
	}{
		{"Ctrl+Shift+A", "ctrl+shift+a", [][]uint16{{162, 163}, {160, 161}, {65}}},
		{"control + option + q", "ctrl+alt+q", [][]uint16{{162, 163}, {164, 165}, {81}}},
		{"win+9", "cmd+9", [][]uint16{{91, 92}, {57}}},
		{"alt+F12", "alt+f12", [][]uint16{{164, 165}, {123}}},
		{"f24", "f24", [][]uint16{{135}}},
		{"Escape", "esc", [][]uint16{{27}}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			c, err := ParseCombo(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.names, c.String())
			require.Len(t, c.Keys, len(tt.codes))
			for i, k := range c.Keys {
				assert.Equal(t, tt.codes[i], k.Rawcodes)
			}
		})
	}
}

func TestParseComboRejects(t *testing.T) {
	for _, in := range []string{"", "  ", "ctrl+", "ctrl+unknown", "f25", "f1x"} {
		_, err := ParseCombo(in)
		assert.Error(t, err, in)
	}
	_, err := ParseCombo("")
	assert.ErrorIs(t, err, ErrEmptyCombo)
}

func TestMatcherFiresOncePerChord(t *testing.T) {
	c, err := ParseCombo(DefaultCombo)
	require.NoError(t, err)
	m := NewMatcher(c)

	assert.False(t, m.KeyDown(163)) // right ctrl
	assert.False(t, m.KeyDown(160))
	assert.True(t, m.KeyDown(65))

	// Auto-repeat of the last key alone does not fire again.
	assert.False(t, m.KeyDown(65))

	m.KeyUp(65)
	assert.False(t, m.KeyDown(162))
	m.KeyUp(162)
	assert.False(t, m.KeyDown(160))
	assert.False(t, m.KeyDown(65))
	assert.True(t, m.KeyDown(162))
}
