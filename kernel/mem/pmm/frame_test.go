package pmm

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"kfscore/kernel/mem"
)

func TestFrameAddressAndNumber(t *testing.T) {
	for number := uint32(0); number < 128; number++ {
		f := FrameFromNumber(0, number)

		assert.True(t, f.Valid())
		assert.EqualValues(t, uintptr(number)<<mem.PageShift, f.Address())
		assert.Equal(t, number, f.Number())
	}
}

func TestFrameFromAddressRoundsDown(t *testing.T) {
	f := FrameFromAddress(0x1000 + 0x123)
	assert.EqualValues(t, 0x1000, f.Address())
}

func TestInvalidFrame(t *testing.T) {
	assert.False(t, InvalidFrame.Valid())
}

func TestFrameFromNumberRespectsBase(t *testing.T) {
	f := FrameFromNumber(0x10000000, 2)
	assert.EqualValues(t, 0x10000000+2*uintptr(mem.PageSize), f.Address())
}
