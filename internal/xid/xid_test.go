package xid

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsPrefixedAndOrdered(t *testing.T) {
	first := New("sale")
	second := New("sale")

	require.True(t, strings.HasPrefix(first, "sale-"))
	parsed, err := uuid.Parse(strings.TrimPrefix(first, "sale-"))
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.NotEqual(t, first, second)
	assert.Less(t, first, second)
}
