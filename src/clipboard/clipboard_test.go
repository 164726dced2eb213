package clipboard

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrite(t *testing.T) {
	if err := Init(); err != nil {
		t.Skipf("clipboard unavailable: %v", err)
	}
	assert.NoError(t, Write("test text"))
}

func TestWriteImageRejectsNonDataURL(t *testing.T) {
	assert.Error(t, WriteImage("not a data url"))
}
