package shard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSingleShardOwnsEverything(t *testing.T) {
	r, err := NewRouter(0, 1)
	require.NoError(t, err)

	for _, accountID := range []int64{0, 1, 7, 1_000_000, -5} {
		assert.True(t, r.Owns(accountID), "account %d", accountID)
	}
}

func TestOwnershipByResidue(t *testing.T) {
	r, err := NewRouter(1, 4)
	require.NoError(t, err)

	assert.True(t, r.Owns(1))
	assert.True(t, r.Owns(5))
	assert.True(t, r.Owns(9))

	assert.False(t, r.Owns(0))
	assert.False(t, r.Owns(2))
	assert.False(t, r.Owns(3))
	assert.False(t, r.Owns(4))
}

func TestNegativeAccountIDs(t *testing.T) {
	r, err := NewRouter(1, 4)
	require.NoError(t, err)

	// -3 mod 4 lands on residue 1
	assert.True(t, r.Owns(-3))
	assert.False(t, r.Owns(-1))
}

func TestEveryAccountHasExactlyOneOwner(t *testing.T) {
	const total = 5
	routers := make([]*Router, total)
	for i := range routers {
		r, err := NewRouter(i, total)
		require.NoError(t, err)
		routers[i] = r
	}

	for accountID := int64(-20); accountID <= 20; accountID++ {
		owners := 0
		for _, r := range routers {
			if r.Owns(accountID) {
				owners++
			}
		}
		assert.Equal(t, 1, owners, "account %d", accountID)
	}
}

func TestInvalidTopology(t *testing.T) {
	_, err := NewRouter(0, 0)
	assert.Error(t, err)

	_, err = NewRouter(-1, 4)
	assert.Error(t, err)

	_, err = NewRouter(4, 4)
	assert.Error(t, err)
}
