package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMeter(t *testing.T) {
	m := NewMeter(64)

	var due int

	for i := 0; i < 20; i++ {
		if m.Add(8) {
			due++
		}
	}

	assert.Equal(t, 2, due, "160 bytes in 8 byte chunks cross a 64 byte interval twice")
	assert.Equal(t, int64(160), m.Total())
	assert.True(t, m.Pending())

	assert.False(t, m.Add(0))
	assert.False(t, m.Add(-5))
	assert.Equal(t, int64(160), m.Total())
}

func TestMeter_LargeWrite(t *testing.T) {
	m := NewMeter(64)

	assert.True(t, m.Add(1000))
	assert.False(t, m.Pending())
	assert.False(t, m.Add(1))
}
