package dispatch

import "github.com/haasonsaas/pulse/pkg/models"

// Scope names the kind of recipient a selector resolves.
type Scope string

const (
	// ScopeCreator resolves to the entity's creator.
	ScopeCreator Scope = "creator"

	// ScopeAssignee resolves to the entity's current assignee.
	ScopeAssignee Scope = "assignee"

	// ScopeRole resolves to every active user holding a role, scoped to
	// the entity's location unless AllLocations is set.
	ScopeRole Scope = "role"

	// ScopeExtraUser resolves to the user id stored under Key in the
	// event's extra payload. Used when the recipient is related through
	// another entity, such as the assignee of the case an allocation
	// references.
	ScopeExtraUser Scope = "extra_user"
)

// Selector is one declarative recipient rule. A rule table entry is a
// list of selectors whose results are unioned and deduplicated by user
// id.
type Selector struct {
	Scope Scope

	// Role applies to ScopeRole.
	Role models.Role

	// AllLocations widens a role selector beyond the entity's location.
	AllLocations bool

	// Key applies to ScopeExtraUser.
	Key string

	// Statuses restricts the selector to events whose extra "status"
	// value is listed. Empty means the selector always applies.
	Statuses []string
}

// customerFacingStatuses are the status-change values that pull
// stakeholder roles into the recipient set in addition to the creator
// and assignee.
var customerFacingStatuses = []string{"quotation", "invoicing", "closed", "resolved"}

func creator() Selector  { return Selector{Scope: ScopeCreator} }
func assignee() Selector { return Selector{Scope: ScopeAssignee} }

func role(r models.Role) Selector {
	return Selector{Scope: ScopeRole, Role: r}
}

func roleEverywhere(r models.Role) Selector {
	return Selector{Scope: ScopeRole, Role: r, AllLocations: true}
}

func roleOnStatus(r models.Role, statuses ...string) Selector {
	return Selector{Scope: ScopeRole, Role: r, Statuses: statuses}
}

// defaultRules is the recipient rule table. Supervisory roles are scoped
// to the entity's location except admins, who see every location.
func defaultRules() map[models.NotificationType][]Selector {
	createdRules := []Selector{
		creator(),
		role(models.RoleManager),
		role(models.RoleSupervisor),
		roleEverywhere(models.RoleAdmin),
	}
	statusChangedRules := []Selector{
		creator(),
		assignee(),
		roleOnStatus(models.RoleManager, customerFacingStatuses...),
		roleOnStatus(models.RoleSupervisor, customerFacingStatuses...),
	}
	overdueRules := []Selector{
		creator(),
		assignee(),
		role(models.RoleManager),
		role(models.RoleSupervisor),
		roleEverywhere(models.RoleAdmin),
	}
	stockRules := []Selector{
		role(models.RoleStorekeeper),
		role(models.RoleManager),
	}

	return map[models.NotificationType][]Selector{
		models.TypeCaseCreated:   createdRules,
		models.TypeTicketCreated: createdRules,

		models.TypeCaseAssigned:   {assignee()},
		models.TypeTicketAssigned: {assignee()},

		models.TypeCaseStatusChanged:   statusChangedRules,
		models.TypeTicketStatusChanged: statusChangedRules,

		models.TypeTicketResolved: {
			creator(),
			assignee(),
			role(models.RoleManager),
		},

		models.TypeCaseOverdue: overdueRules,

		models.TypeTicketWarrantyExpiring: {
			role(models.RoleManager),
			role(models.RoleSupervisor),
			role(models.RoleTechnician),
		},

		models.TypeStockLow:      stockRules,
		models.TypeStockTransfer: stockRules,
		models.TypeStockAllocation: {
			role(models.RoleStorekeeper),
			role(models.RoleManager),
			{Scope: ScopeExtraUser, Key: "assignee_id"},
		},
	}
}
