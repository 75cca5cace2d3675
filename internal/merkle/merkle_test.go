package merkle

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoot_Empty(t *testing.T) {
	assert.Equal(t, EmptyRoot, Root(nil))
}

func TestRoot_SingleLeaf(t *testing.T) {
	h := sha256.Sum256([]byte("a"))
	assert.Equal(t, hexString(h[:]), Root([]string{"a"}))
}

func TestRoot_Deterministic(t *testing.T) {
	a := Root([]string{"a", "b", "c"})
	b := Root([]string{"a", "b", "c"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, Root([]string{"a", "b", "d"}))
}

func hexString(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hextable[v>>4]
		out[i*2+1] = hextable[v&0x0f]
	}
	return string(out)
}
