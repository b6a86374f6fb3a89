package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/smeportal/onboarding-server/internal/model"
)

func TestCheckPermission_RelationshipManagerScope(t *testing.T) {
	rm := &model.User{
		ID:       "rm-1",
		Role:     model.RoleRelationshipManager,
		IsActive: true,
		AccessScope: &model.AccessScope{
			Products:  []string{"term-loan"},
			MaxAmount: 100000,
		},
	}

	tests := []struct {
		name string
		res  Resource
		want bool
	}{
		{"in scope", Resource{Products: []string{"term-loan"}, TotalAmount: 50000}, true},
		{"at the limit", Resource{Products: []string{"term-loan"}, TotalAmount: 100000}, true},
		{"over the limit", Resource{Products: []string{"term-loan"}, TotalAmount: 150000}, false},
		{"product out of scope", Resource{Products: []string{"green-loan"}, TotalAmount: 50000}, false},
		{"one product out of scope", Resource{Products: []string{"term-loan", "green-loan"}, TotalAmount: 50000}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CheckPermission(rm, ActionViewApplication, tt.res))
			assert.Equal(t, tt.want, CheckPermission(rm, ActionDecideApplication, tt.res))
		})
	}

	t.Run("regions restrict when both sides name one", func(t *testing.T) {
		regional := *rm
		regional.AccessScope = &model.AccessScope{Products: []string{"term-loan"}, Regions: []string{"london"}, MaxAmount: 100000}

		assert.True(t, CheckPermission(&regional, ActionReviewApplication, Resource{Products: []string{"term-loan"}, Region: "london"}))
		assert.False(t, CheckPermission(&regional, ActionReviewApplication, Resource{Products: []string{"term-loan"}, Region: "scotland"}))
		assert.True(t, CheckPermission(&regional, ActionReviewApplication, Resource{Products: []string{"term-loan"}}))
	})

	t.Run("customer-only and admin actions are denied", func(t *testing.T) {
		res := Resource{Products: []string{"term-loan"}, TotalAmount: 1}
		assert.False(t, CheckPermission(rm, ActionCreateApplication, res))
		assert.False(t, CheckPermission(rm, ActionEditApplication, res))
		assert.False(t, CheckPermission(rm, ActionManageUsers, res))
		assert.True(t, CheckPermission(rm, ActionViewProducts, Resource{}))
	})

	t.Run("missing scope denies scoped actions", func(t *testing.T) {
		bare := &model.User{ID: "rm-2", Role: model.RoleRelationshipManager, IsActive: true}
		assert.False(t, CheckPermission(bare, ActionViewApplication, Resource{}))
	})
}

func TestCheckPermission_Customer(t *testing.T) {
	customer := &model.User{ID: "cust-1", Role: model.RoleCustomer, IsActive: true}
	own := Resource{OwnerID: "cust-1"}
	other := Resource{OwnerID: "cust-2"}

	assert.True(t, CheckPermission(customer, ActionCreateApplication, Resource{}))
	assert.True(t, CheckPermission(customer, ActionViewProducts, Resource{}))
	assert.True(t, CheckPermission(customer, ActionViewDashboard, Resource{}))

	for _, action := range []Action{ActionViewApplication, ActionEditApplication, ActionSubmitApplication} {
		assert.True(t, CheckPermission(customer, action, own), "own %s", action)
		assert.False(t, CheckPermission(customer, action, other), "other %s", action)
		assert.False(t, CheckPermission(customer, action, Resource{}), "unowned %s", action)
	}

	assert.False(t, CheckPermission(customer, ActionReviewApplication, own))
	assert.False(t, CheckPermission(customer, ActionDecideApplication, own))
	assert.False(t, CheckPermission(customer, ActionManageUsers, own))
}

func TestCheckPermission_Superuser(t *testing.T) {
	admin := &model.User{ID: "admin-1", Role: model.RoleSuperuser, IsActive: true}
	for _, action := range Actions {
		assert.True(t, CheckPermission(admin, action, Resource{TotalAmount: 1 << 40}), "action %s", action)
	}
	assert.False(t, CheckPermission(admin, Action("launch_rockets"), Resource{}))
}

func TestCheckPermission_InactiveOrMissingUser(t *testing.T) {
	inactive := &model.User{ID: "admin-1", Role: model.RoleSuperuser, IsActive: false}
	for _, action := range Actions {
		assert.False(t, CheckPermission(inactive, action, Resource{}))
		assert.False(t, CheckPermission(nil, action, Resource{}))
	}
}

func TestDashboardFor(t *testing.T) {
	assert.Equal(t, "/customer", DashboardFor(model.RoleCustomer))
	assert.Equal(t, "/rm", DashboardFor(model.RoleRelationshipManager))
	assert.Equal(t, "/admin", DashboardFor(model.RoleSuperuser))
	assert.Equal(t, "/", DashboardFor(model.Role("guest")))
}
