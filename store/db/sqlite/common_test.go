package sqlite

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorEncoding(t *testing.T) {
	v := []float32{0, 1, -1, 0.5, float32(math.Pi), -0.000123}
	buf := encodeVector(v)
	require.Len(t, buf, 4*len(v))

	decoded, err := decodeVector(buf)
	require.NoError(t, err)
	assert.Equal(t, v, decoded)

	_, err = decodeVector(buf[:5])
	assert.Error(t, err)
}

func TestIsFTSSyntaxError(t *testing.T) {
	assert.True(t, isFTSSyntaxError(errors.New(`SQL logic error: fts5: syntax error near "("`)))
	assert.True(t, isFTSSyntaxError(errors.New("SQL logic error: no such column: milk")))
	assert.False(t, isFTSSyntaxError(errors.New("database is locked")))
}
