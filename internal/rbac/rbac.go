package rbac

type Role string
type Action string

const (
	RoleViewer     Role = "viewer"
	RoleThirdParty Role = "third_party_respondent"
	RoleAuditor    Role = "auditor"
	RoleAdmin      Role = "admin"
)

const (
	ActionRead Action = "read"
	// ActionAnswer covers questionnaire answers and observations.
	ActionAnswer Action = "answer"
	// ActionAssess covers status and result.
	ActionAssess         Action = "assess"
	ActionManageEvidence Action = "manage_evidence"
	ActionExport         Action = "export"
	ActionAdmin          Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleAuditor:
		return action != ActionAdmin
	case RoleThirdParty:
		return action == ActionRead || action == ActionAnswer || action == ActionManageEvidence || action == ActionExport
	case RoleViewer:
		return action == ActionRead || action == ActionExport
	default:
		return false
	}
}

// IsThirdParty reports whether the role answers questionnaires on behalf of
// an audited party.
func IsThirdParty(role Role) bool {
	return role == RoleThirdParty
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleThirdParty, RoleAuditor, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
