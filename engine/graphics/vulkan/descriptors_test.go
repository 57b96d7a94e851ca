package vulkan

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescriptorPoolsGrowPerFrameSlot(t *testing.T) {
	native := newFakeDevice()
	native.poolCapacity = 2
	a := newDescriptorAllocator(native, 2)
	defer a.destroy()
	layout := &fakeObject{kind: "set_layout"}

	require.NoError(t, a.beginFrame(0))
	for i := 0; i < 3; i++ {
		_, err := a.allocate(layout)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, a.pools(0))
	assert.Equal(t, 0, a.pools(1))

	require.NoError(t, a.beginFrame(1))
	_, err := a.allocate(layout)
	require.NoError(t, err)
	assert.Equal(t, 1, a.pools(1))

	// Coming back to slot 0 resets its pools instead of creating new ones.
	require.NoError(t, a.beginFrame(0))
	assert.Equal(t, 1, native.pools[0].resets)
	assert.Equal(t, 1, native.pools[1].resets)
	for i := 0; i < 4; i++ {
		_, err := a.allocate(layout)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, a.pools(0))
	assert.Len(t, native.pools, 3)
}

func TestDescriptorSetThatFitsNoPool(t *testing.T) {
	native := newFakeDevice()
	native.poolCapacity = 0
	a := newDescriptorAllocator(native, 1)
	defer a.destroy()

	require.NoError(t, a.beginFrame(0))
	_, err := a.allocate(&fakeObject{kind: "set_layout"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errDescriptorPoolFull))
	assert.Equal(t, 2, a.pools(0))
}

func TestDescriptorAllocatorDestroyReleasesPools(t *testing.T) {
	native := newFakeDevice()
	a := newDescriptorAllocator(native, 2)

	require.NoError(t, a.beginFrame(1))
	_, err := a.allocate(&fakeObject{kind: "set_layout"})
	require.NoError(t, err)
	a.destroy()

	require.Len(t, native.pools, 1)
	assert.True(t, native.pools[0].released)
	assert.Equal(t, 0, a.pools(1))
}
