package service

import "baydigital/pkg/rbac"

// Actor 当前请求的调用者，来自 JWT
type Actor struct {
	UserID   int64
	TenantID int64 // 员工账号为 0
	Role     string
}

func (a Actor) IsAdmin() bool { return rbac.IsAdmin(a.Role) }

// canAccess 客户只能访问自己租户的数据
func (a Actor) canAccess(tenantID int64) bool {
	return rbac.ValidateTenantAccess(a.Role, a.TenantID, tenantID) == nil
}
