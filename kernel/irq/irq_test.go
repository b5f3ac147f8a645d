package irq

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegisterAndDispatch(t *testing.T) {
	defer Reset()

	var gotCode uint32
	var gotAddr uintptr
	Register(PageFault, func(errorCode uint32, faultAddr uintptr) {
			gotCode = errorCode
			gotAddr = faultAddr
		})

	Dispatch(PageFault, 0x4, 0xdeadb000)

	assert.EqualValues(t, 0x4, gotCode)
	assert.EqualValues(t, 0xdeadb000, gotAddr)
}

func TestDispatchWithoutHandlerIsNoop(t *testing.T) {
	defer Reset()
	assert.NotPanics(t, func() { Dispatch(PageFault, 0, 0) })
}

func TestRegisterOverwritesPreviousHandler(t *testing.T) {
	defer Reset()

	calls := 0
	Register(PageFault, func(uint32, uintptr) { calls++ })
	Register(PageFault, func(uint32, uintptr) { calls += 10 })

	Dispatch(PageFault, 0, 0)

	assert.Equal(t, 10, calls)
}
