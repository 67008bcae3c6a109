// Package permissions resolves what each role may do. The sets are static and
// derived from the role alone.
package permissions

import "portalauth/internal/models"

type Permission string

const (
	ContentRead    Permission = "content:read"
	ContentCreate  Permission = "content:create"
	ContentUpdate  Permission = "content:update"
	ContentDelete  Permission = "content:delete"
	ContentPublish Permission = "content:publish"

	ProjectRead   Permission = "project:read"
	ProjectCreate Permission = "project:create"
	ProjectUpdate Permission = "project:update"
	ProjectDelete Permission = "project:delete"

	QuoteRead   Permission = "quote:read"
	QuoteCreate Permission = "quote:create"

	FileRead   Permission = "file:read"
	FileUpload Permission = "file:upload"
	FileDelete Permission = "file:delete"

	UserRead   Permission = "user:read"
	UserManage Permission = "user:manage"

	AnalyticsRead  Permission = "analytics:read"
	BillingRead    Permission = "billing:read"
	SettingsManage Permission = "settings:manage"

	// Wildcard grants everything. Only SUPER_ADMIN holds it.
	Wildcard Permission = "*"
)

var (
	adminPermissions = []Permission{
		ContentRead, ContentCreate, ContentUpdate, ContentDelete, ContentPublish,
		ProjectRead, ProjectCreate, ProjectUpdate, ProjectDelete,
		QuoteRead, QuoteCreate,
		FileRead, FileUpload, FileDelete,
		UserRead, UserManage,
		AnalyticsRead, BillingRead,
	}
	editorPermissions = []Permission{
		ContentRead, ContentCreate, ContentUpdate, ContentPublish,
		ProjectRead, ProjectUpdate,
		FileRead, FileUpload,
	}
	memberPermissions = []Permission{
		ContentRead, ContentCreate,
		ProjectRead, ProjectCreate, ProjectUpdate,
		QuoteRead,
		FileRead, FileUpload,
	}
	clientPermissions = []Permission{
		ProjectRead, ProjectCreate,
		QuoteRead, QuoteCreate,
		FileRead, FileUpload,
		BillingRead,
	}
	viewerPermissions = []Permission{
		ContentRead,
		ProjectRead,
	}
)

// For returns the ordered permission set of role. Unknown roles get nil. The
// switch must name every role in models.AllRoles.
func For(role models.UserRole) []Permission {
	switch role {
	case models.UserRoleSuperAdmin:
		return []Permission{Wildcard}
	case models.UserRoleAdmin:
		return clone(adminPermissions)
	case models.UserRoleEditor:
		return clone(editorPermissions)
	case models.UserRoleMember:
		return clone(memberPermissions)
	case models.UserRoleClient:
		return clone(clientPermissions)
	case models.UserRoleViewer:
		return clone(viewerPermissions)
	default:
		return nil
	}
}

// Has reports whether role holds perm. SUPER_ADMIN holds every permission.
func Has(role models.UserRole, perm Permission) bool {
	if role == models.UserRoleSuperAdmin {
		return true
	}
	for _, p := range setFor(role) {
		if p == perm {
			return true
		}
	}
	return false
}

func setFor(role models.UserRole) []Permission {
	switch role {
	case models.UserRoleAdmin:
		return adminPermissions
	case models.UserRoleEditor:
		return editorPermissions
	case models.UserRoleMember:
		return memberPermissions
	case models.UserRoleClient:
		return clientPermissions
	case models.UserRoleViewer:
		return viewerPermissions
	default:
		return nil
	}
}

func clone(perms []Permission) []Permission {
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}
