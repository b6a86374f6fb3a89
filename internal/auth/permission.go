package auth

import (
	"slices"

	"github.com/smeportal/onboarding-server/internal/model"
)

type Action string

const (
	ActionViewProducts      Action = "view_products"
	ActionCreateApplication Action = "create_application"
	ActionEditApplication   Action = "edit_application"
	ActionSubmitApplication Action = "submit_application"
	ActionViewApplication   Action = "view_application"
	ActionReviewApplication Action = "review_application"
	ActionDecideApplication Action = "decide_application"
	ActionManageUsers       Action = "manage_users"
	ActionViewDashboard     Action = "view_dashboard"
)

// Actions lists every action the portal gates.
var Actions = []Action{
	ActionViewProducts,
	ActionCreateApplication,
	ActionEditApplication,
	ActionSubmitApplication,
	ActionViewApplication,
	ActionReviewApplication,
	ActionDecideApplication,
	ActionManageUsers,
	ActionViewDashboard,
}

func (a Action) Valid() bool {
	return slices.Contains(Actions, a)
}

// Resource describes the application an action targets. The zero value is
// used for actions that are not about a specific application.
type Resource struct {
	OwnerID     string
	Products    []string
	TotalAmount int64
	Region      string
}

// ResourceOf builds the permission view of an application.
func ResourceOf(app *model.Application) Resource {
	return Resource{
		OwnerID:     app.OwnerID,
		Products:    app.ProductIDs(),
		TotalAmount: app.TotalAmount,
		Region:      app.Region,
	}
}

// CheckPermission decides whether user may perform action on res.
func CheckPermission(user *model.User, action Action, res Resource) bool {
	if user == nil || !user.IsActive || !action.Valid() {
		return false
	}

	switch user.Role {
	case model.RoleSuperuser:
		return true
	case model.RoleRelationshipManager:
		return relationshipManagerMay(user.AccessScope, action, res)
	case model.RoleCustomer:
		return customerMay(user.ID, action, res)
	}
	return false
}

func relationshipManagerMay(scope *model.AccessScope, action Action, res Resource) bool {
	switch action {
	case ActionViewProducts, ActionViewDashboard:
		return true
	case ActionViewApplication, ActionReviewApplication, ActionDecideApplication:
		return withinScope(scope, res)
	}
	return false
}

func withinScope(scope *model.AccessScope, res Resource) bool {
	if scope == nil {
		return false
	}
	for _, p := range res.Products {
		if !slices.Contains(scope.Products, p) {
			return false
		}
	}
	if res.TotalAmount > scope.MaxAmount {
		return false
	}
	if len(scope.Regions) == 0 || res.Region == "" {
		return true
	}
	return slices.Contains(scope.Regions, res.Region)
}

func customerMay(userID string, action Action, res Resource) bool {
	switch action {
	case ActionViewProducts, ActionViewDashboard, ActionCreateApplication:
		return true
	case ActionViewApplication, ActionEditApplication, ActionSubmitApplication:
		return res.OwnerID != "" && res.OwnerID == userID
	}
	return false
}

// DashboardFor returns the landing route for a role.
func DashboardFor(role model.Role) string {
	switch role {
	case model.RoleCustomer:
		return "/customer"
	case model.RoleRelationshipManager:
		return "/rm"
	case model.RoleSuperuser:
		return "/admin"
	}
	return "/"
}
