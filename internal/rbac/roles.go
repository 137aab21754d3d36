package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleOperator   = "operator"
	RoleSuperAdmin = "super_admin"
	RoleScheduler  = "scheduler" // hidden role
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

// IsHiddenRole reports machine roles that must be opted in explicitly.
func IsHiddenRole(role string) bool { return role == RoleScheduler }

func Known(role string) bool {
	switch role {
	case RoleOperator, RoleSuperAdmin, RoleScheduler:
		return true
	default:
		return false
	}
}
