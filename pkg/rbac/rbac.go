package rbac

// 权限常量
const (
	PermissionReadRule     = "rule:read"
	PermissionWriteRule    = "rule:write"
	PermissionReadLog      = "escalation_log:read"
	PermissionTriggerTick  = "escalation:tick"
	PermissionIssueReport  = "report:issue"
	PermissionReviewReport = "report:review"
	PermissionReplayOutbox = "outbox:replay"
)

// 角色常量
const (
	RoleUser     = "user"
	RoleReviewer = "reviewer"
	RoleAdmin    = "admin"
)

// 角色权限映射
var rolePermissions = map[string][]string{
	RoleUser: {
		PermissionReadRule,
	},
	RoleReviewer: {
		PermissionReadRule,
		PermissionReadLog,
		PermissionIssueReport,
		PermissionReviewReport,
	},
	RoleAdmin: {
		PermissionReadRule,
		PermissionWriteRule,
		PermissionReadLog,
		PermissionTriggerTick,
		PermissionIssueReport,
		PermissionReviewReport,
		PermissionReplayOutbox,
	},
}

// HasPermission 检查角色是否拥有指定权限
func HasPermission(role, permission string) bool {
	for _, p := range rolePermissions[role] {
		if p == permission {
			return true
		}
	}
	return false
}

// CheckPermission 与 HasPermission 相同，但返回错误便于处理
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

// PermissionDeniedError 表示权限不足
type PermissionDeniedError struct {
	UserID     int64
	Role       string
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return "insufficient permissions: " + e.Permission
}
