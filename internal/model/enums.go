package model

type Role string

const (
	RoleCustomer            Role = "customer"
	RoleRelationshipManager Role = "relationship_manager"
	RoleSuperuser           Role = "superuser"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleRelationshipManager, RoleSuperuser:
		return true
	}
	return false
}

type BusinessType string

const (
	BusinessTypeSoleTrader        BusinessType = "sole_trader"
	BusinessTypePartnership       BusinessType = "partnership"
	BusinessTypeLimitedCompany    BusinessType = "limited_company"
	BusinessTypeOtherOrganization BusinessType = "other_organization"
)

func (b BusinessType) Valid() bool {
	switch b {
	case BusinessTypeSoleTrader, BusinessTypePartnership, BusinessTypeLimitedCompany, BusinessTypeOtherOrganization:
		return true
	}
	return false
}

type ApplicationStatus string

const (
	ApplicationStatusDraft       ApplicationStatus = "draft"
	ApplicationStatusSubmitted   ApplicationStatus = "submitted"
	ApplicationStatusUnderReview ApplicationStatus = "under_review"
	ApplicationStatusApproved    ApplicationStatus = "approved"
	ApplicationStatusRejected    ApplicationStatus = "rejected"
	ApplicationStatusReferred    ApplicationStatus = "referred"
)

type ApplicationStep string

const (
	StepBusinessDetails ApplicationStep = "business_details"
	StepProducts        ApplicationStep = "products"
	StepDocuments       ApplicationStep = "documents"
	StepReview          ApplicationStep = "review"
)

// ApplicationSteps lists the wizard steps in order.
var ApplicationSteps = []ApplicationStep{
	StepBusinessDetails,
	StepProducts,
	StepDocuments,
	StepReview,
}

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	DecisionRefer   Decision = "refer"
)

type RiskBand string

const (
	RiskBandLow    RiskBand = "low"
	RiskBandMedium RiskBand = "medium"
	RiskBandHigh   RiskBand = "high"
)
