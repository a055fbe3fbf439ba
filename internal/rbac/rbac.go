package rbac

type Role string
type Action string

// Roles are ordered by privilege. Mergers are editors who may also promote
// suggestions into the canonical dictionary.
const (
	RoleUser   Role = "user"
	RoleEditor Role = "editor"
	RoleMerger Role = "merger"
	RoleAdmin  Role = "admin"
)

const (
	ActionRead    Action = "read"
	ActionSuggest Action = "suggest"
	ActionVote    Action = "vote"
	ActionMerge   Action = "merge"
	ActionDelete  Action = "delete"
	ActionAdmin   Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleMerger:
		return action == ActionRead || action == ActionSuggest || action == ActionVote || action == ActionMerge || action == ActionDelete
	case RoleEditor:
		return action == ActionRead || action == ActionSuggest || action == ActionVote
	case RoleUser:
		return action == ActionRead || action == ActionSuggest
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleUser, RoleEditor, RoleMerger, RoleAdmin:
		return Role(role)
	default:
		return RoleUser
	}
}
