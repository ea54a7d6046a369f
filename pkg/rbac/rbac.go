package rbac

// Permissions for task operations.
const (
	PermissionReadTask       = "task:read"
	PermissionSaveTask       = "task:save"
	PermissionDeleteTask     = "task:delete"
	PermissionPurgeCompleted = "task:purge_completed"
	PermissionSeedTasks      = "task:seed"
)

// Roles.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

var rolePermissions = map[string][]string{
	RoleUser: {
		PermissionReadTask,
		PermissionSaveTask,
		PermissionDeleteTask,
	},
	RoleAdmin: {
		PermissionReadTask,
		PermissionSaveTask,
		PermissionDeleteTask,
		PermissionPurgeCompleted,
		PermissionSeedTasks,
	},
}

// HasPermission checks whether a role carries a permission.
func HasPermission(role, permission string) bool {
	permissions, ok := rolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// CheckPermission returns an error instead of a boolean, for handler use.
func CheckPermission(role, permission string) error {
	if !HasPermission(role, permission) {
		return &PermissionDeniedError{
			Role:       role,
			Permission: permission,
		}
	}
	return nil
}

type PermissionDeniedError struct {
	Role       string
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return "insufficient permissions"
}
