package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferGrowth(t *testing.T) {
	t.Parallel()

	var b Buffer
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 0, b.Cap())

	b.EnsureCapacity(128)
	require.GreaterOrEqual(t, b.Cap(), 128)

	// Same or smaller requirement must not reallocate.
	before := &b.Raw()[0]
	b.EnsureCapacity(128)
	assert.Same(t, before, &b.Raw()[0])
	b.EnsureCapacity(16)
	assert.Same(t, before, &b.Raw()[0])

	// Growth preserves contents.
	b.SetLen(4)
	copy(b.Bytes(), []byte{1, 2, 3, 4})
	b.EnsureCapacity(4096)
	assert.Equal(t, []byte{1, 2, 3, 4}, b.Bytes())
	assert.GreaterOrEqual(t, b.Cap(), 4096)
}

func TestBufferSetLenGrows(t *testing.T) {
	t.Parallel()

	var b Buffer
	b.SetLen(64)
	assert.Equal(t, 64, b.Len())
	assert.GreaterOrEqual(t, b.Cap(), 64)
	assert.Len(t, b.Bytes(), 64)
}
