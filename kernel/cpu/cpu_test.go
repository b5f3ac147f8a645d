package cpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadAndReadActivePageDirectory(t *testing.T) {
	LoadPageDirectory(0x1000)
	assert.EqualValues(t, 0x1000, ActivePageDirectory())
}

func TestEnablePaging(t *testing.T) {
	assert.False(t, PagingEnabled())
	EnablePaging()
	assert.True(t, PagingEnabled())
}

func TestFlushTLBReloadsActivePageDirectory(t *testing.T) {
	LoadPageDirectory(0x2000)
	var reloaded uintptr
	prev := LoadPageDirectory
	defer func() { LoadPageDirectory = prev }()
	LoadPageDirectory = func(phys uintptr) { reloaded = phys }

	FlushTLB()

	assert.EqualValues(t, 0x2000, reloaded)
}

func TestHaltIsMockable(t *testing.T) {
	prev := Halt
	defer func() { Halt = prev }()

	var halted bool
	Halt = func() { halted = true }
	Halt()

	assert.True(t, halted)
}
