package rbac

// 权限常量
const (
	// 客户操作
	PermissionManageAccount = "account:manage"
	PermissionManageBilling = "billing:manage"
	PermissionCreateTicket  = "ticket:create"
	PermissionReplyTicket   = "ticket:reply"
	PermissionCloseTicket   = "ticket:close"
	PermissionManagePosts   = "social:manage"
	PermissionGenerateAI    = "ai:generate"
	PermissionUpload        = "upload:create"
	PermissionReadForms     = "forms:read"

	// 员工操作
	PermissionWriteInternalNote = "ticket:internal_note"
	PermissionSetAnyTicketState = "ticket:any_status"
	PermissionViewAllTenants    = "tenant:read_all"
	PermissionReplayOutbox      = "outbox:replay"
)

// 角色常量
const (
	RoleClient = "client"
	RoleAdmin  = "admin"
)

var clientPermissions = []string{
	PermissionManageAccount,
	PermissionManageBilling,
	PermissionCreateTicket,
	PermissionReplyTicket,
	PermissionCloseTicket,
	PermissionManagePosts,
	PermissionGenerateAI,
	PermissionUpload,
	PermissionReadForms,
}

// 角色权限映射
var rolePermissions = map[string][]string{
	RoleClient: clientPermissions,
	RoleAdmin: append(append([]string{}, clientPermissions...),
		PermissionWriteInternalNote,
		PermissionSetAnyTicketState,
		PermissionViewAllTenants,
		PermissionReplayOutbox,
	),
}

// ValidRole reports whether role is known.
func ValidRole(role string) bool {
	_, ok := rolePermissions[role]
	return ok
}

// IsAdmin 是否员工角色
func IsAdmin(role string) bool {
	return role == RoleAdmin
}

// HasPermission 检查角色是否有指定权限，角色来自 JWT
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

// CheckPermission 检查权限（返回错误而不是布尔值，便于处理）
func CheckPermission(userID int64, role, permission string) error {
	if !HasPermission(role, permission) {
		return &PermissionDeniedError{
			UserID:     userID,
			Role:       role,
			Permission: permission,
		}
	}
	return nil
}

// PermissionDeniedError 表示权限不足的错误
type PermissionDeniedError struct {
	UserID     int64
	Role       string
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return "insufficient permissions"
}

// ValidateTenantAccess 非员工只能访问自己的租户
func ValidateTenantAccess(role string, tokenTenantID, resourceTenantID int64) error {
	if IsAdmin(role) || tokenTenantID == resourceTenantID {
		return nil
	}
	return &TenantMismatchError{
		TokenTenantID:    tokenTenantID,
		ResourceTenantID: resourceTenantID,
	}
}

// TenantMismatchError 表示跨租户访问
type TenantMismatchError struct {
	TokenTenantID    int64
	ResourceTenantID int64
}

func (e *TenantMismatchError) Error() string {
	return "resource belongs to another tenant"
}
