package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasPermission(t *testing.T) {
	assert.True(t, HasPermission(RoleUser, PermissionSaveTask))
	assert.False(t, HasPermission(RoleUser, PermissionPurgeCompleted))
	assert.True(t, HasPermission(RoleAdmin, PermissionPurgeCompleted))
	assert.False(t, HasPermission("unknown", PermissionReadTask))
}

func TestCheckPermission(t *testing.T) {
	assert.NoError(t, CheckPermission(RoleAdmin, PermissionSeedTasks))

	err := CheckPermission(RoleUser, PermissionSeedTasks)
	assert.Error(t, err)
	assert.Equal(t, "insufficient permissions", err.Error())
}
