package lock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSmallestPredecessor(t *testing.T) {
	siblings := []string{"lock-0000000001", "lock-0000000002", "lock-0000000003"}

	assert.Equal(t, "", smallestPredecessor(siblings, "lock-0000000001"))
	assert.Equal(t, "lock-0000000001", smallestPredecessor(siblings, "lock-0000000002"))
	assert.Equal(t, "lock-0000000002", smallestPredecessor(siblings, "lock-0000000003"))
}
