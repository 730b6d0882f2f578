package reconciler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWithNodeLockDegradesToNoopUnderRoleController(t *testing.T) {
	a := &Agent{roleController: "my-rc", log: zap.NewNop()}
	called := false
	err := a.withNodeLock(context.Background(), "/cust/app", func() error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called, "with a role controller installed, node_lock must degrade to a no-op")
}

func TestWithRoleLockDegradesToNoopWithoutRoleController(t *testing.T) {
	a := &Agent{roleController: "", log: zap.NewNop()}
	called := false
	err := a.withRoleLock(context.Background(), func() error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestAbandonedErrorMessage(t *testing.T) {
	var err error = &Abandoned{}
	assert.Equal(t, "cluster version is None", err.Error())
}
