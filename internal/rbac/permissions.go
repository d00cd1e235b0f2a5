package rbac

// Action names a single capability checked via Can. Actions are free-form
// strings agreed by convention between this table and its call sites.
type Action = string

// Capability identifiers used across the application.
const (
	ActionViewUsers         Action = "view_users"
	ActionAddUser           Action = "add_user"
	ActionUpdateUser        Action = "update_user"
	ActionDeleteUser        Action = "delete_user"
	ActionManageUsers       Action = "manage_users"
	ActionExportUsers       Action = "export_users"
	ActionImportUsers       Action = "import_users"
	ActionMonitorBugs       Action = "monitor_bugs"
	ActionMonitorTesters    Action = "monitor_testers"
	ActionMonitorDevelopers Action = "monitor_developers"
	ActionCheckPerformance  Action = "check_performance"
	ActionViewAnalytics     Action = "view_analytics"
	ActionViewReports       Action = "view_reports"
	ActionManageSettings    Action = "manage_settings"
	ActionCreateBugs        Action = "create_bugs"
	ActionViewCreatedBugs   Action = "view_created_bugs"
	ActionViewAssignedBugs  Action = "view_assigned_bugs"
	ActionAssignBugs        Action = "assign_bugs"
	ActionUpdateBugStatus   Action = "update_bug_status"
	ActionFinishBug         Action = "finish_bug"
	ActionViewDevelopers    Action = "view_developers"
	ActionSearchBugs        Action = "search_bugs"
	ActionViewDocs          Action = "view_docs"
	ActionHostChat          Action = "host_chat"
	ActionJoinChat          Action = "join_chat"
	ActionAttachFiles       Action = "attach_files"
	ActionSendNotifications Action = "send_notifications"
)

// rolePermissions is the static capability matrix. Adding a role or action is
// a code change, not a data migration; the action surface is small and known
// ahead of time.
var rolePermissions = map[Role][]Action{
	RoleAdmin: {
		ActionViewUsers,
		ActionAddUser,
		ActionUpdateUser,
		ActionDeleteUser,
		ActionMonitorBugs,
		ActionMonitorTesters,
		ActionMonitorDevelopers,
		ActionManageUsers,
		ActionViewAnalytics,
		ActionManageSettings,
		ActionViewReports,
		ActionCreateBugs,
		ActionViewCreatedBugs,
		ActionAssignBugs,
		ActionViewDevelopers,
		ActionHostChat,
		ActionAttachFiles,
		ActionSendNotifications,
		ActionViewAssignedBugs,
		ActionUpdateBugStatus,
		ActionFinishBug,
		ActionJoinChat,
		ActionSearchBugs,
		ActionViewDocs,
		ActionExportUsers,
		ActionImportUsers,
	},
	RoleProjectManager: {
		ActionCheckPerformance,
		ActionMonitorBugs,
		ActionMonitorDevelopers,
		ActionMonitorTesters,
		ActionViewAnalytics,
		ActionViewReports,
		ActionManageSettings,
		ActionAssignBugs,
		ActionViewAssignedBugs,
		ActionViewCreatedBugs,
	},
	RoleDeveloper: {
		ActionViewAssignedBugs,
		ActionUpdateBugStatus,
		ActionFinishBug,
		ActionJoinChat,
		ActionSearchBugs,
		ActionViewDocs,
	},
	RoleTester: {
		ActionCreateBugs,
		ActionViewCreatedBugs,
		ActionAssignBugs,
		ActionViewDevelopers,
		ActionHostChat,
		ActionAttachFiles,
		ActionSendNotifications,
	},
}

var permissionSets = buildPermissionSets()

func buildPermissionSets() map[Role]map[Action]struct{} {
	sets := make(map[Role]map[Action]struct{}, len(rolePermissions))
	for role, actions := range rolePermissions {
		set := make(map[Action]struct{}, len(actions))
		for _, a := range actions {
			set[a] = struct{}{}
		}
		sets[role] = set
	}
	return sets
}

// PermissionsFor returns the action set granted to role. The result is never
// nil; an unrecognized role yields an empty set. Callers must not mutate the
// returned map.
func PermissionsFor(role Role) map[Action]struct{} {
	if set, ok := permissionSets[role]; ok {
		return set
	}
	return map[Action]struct{}{}
}

// Can reports whether role is granted action. Unknown roles and unknown
// actions both resolve to false.
func Can(role Role, action Action) bool {
	_, ok := PermissionsFor(role)[action]
	return ok
}
