package model

import (
	"time"
)

type Application struct {
	ID             string            `json:"id"`
	OwnerID        string            `json:"ownerId"`
	BusinessType   BusinessType      `json:"businessType"`
	Region         string            `json:"region,omitempty"`
	Status         ApplicationStatus `json:"status"`
	Details        BusinessDetails   `json:"details"`
	Products       []ProductRequest  `json:"products"`
	TotalAmount    int64             `json:"totalAmount"`
	Documents      []Document        `json:"documents"`
	CompletedSteps []ApplicationStep `json:"completedSteps"`
	Declaration    *Declaration      `json:"declaration,omitempty"`
	Risk           *RiskAssessment   `json:"risk,omitempty"`
	Review         *ReviewRecord     `json:"review,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
	SubmittedAt    *time.Time        `json:"submittedAt,omitempty"`
}

func (a *Application) StepCompleted(step ApplicationStep) bool {
	for _, s := range a.CompletedSteps {
		if s == step {
			return true
		}
	}
	return false
}

func (a *Application) ProductIDs() []string {
	ids := make([]string, 0, len(a.Products))
	for _, p := range a.Products {
		ids = append(ids, p.ProductID)
	}
	return ids
}

// Clone returns a deep copy of the application.
func (a *Application) Clone() *Application {
	if a == nil {
		return nil
	}
	c := *a
	c.Details = a.Details.clone()
	c.Products = append([]ProductRequest(nil), a.Products...)
	c.Documents = make([]Document, len(a.Documents))
	for i, d := range a.Documents {
		c.Documents[i] = d
		if d.Analysis != nil {
			an := *d.Analysis
			an.Fields = cloneStringMap(d.Analysis.Fields)
			c.Documents[i].Analysis = &an
		}
	}
	c.CompletedSteps = append([]ApplicationStep(nil), a.CompletedSteps...)
	if a.Declaration != nil {
		d := *a.Declaration
		c.Declaration = &d
	}
	if a.Risk != nil {
		r := *a.Risk
		r.Factors = append([]string(nil), a.Risk.Factors...)
		c.Risk = &r
	}
	if a.Review != nil {
		rv := *a.Review
		c.Review = &rv
	}
	if a.SubmittedAt != nil {
		t := *a.SubmittedAt
		c.SubmittedAt = &t
	}
	return &c
}

// BusinessDetails holds the role-specific form. Only the fields relevant to
// the application's business type are populated.
type BusinessDetails struct {
	// sole trader
	TradingName   string `json:"tradingName,omitempty"`
	OwnerFullName string `json:"ownerFullName,omitempty"`
	DateOfBirth   string `json:"dateOfBirth,omitempty"`

	// partnership
	PartnershipName string    `json:"partnershipName,omitempty"`
	Partners        []Partner `json:"partners,omitempty"`

	// limited company
	CompanyName       string   `json:"companyName,omitempty"`
	CompanyNumber     string   `json:"companyNumber,omitempty"`
	IncorporationDate string   `json:"incorporationDate,omitempty"`
	Directors         []string `json:"directors,omitempty"`

	// other organization
	OrganizationName   string `json:"organizationName,omitempty"`
	OrganizationType   string `json:"organizationType,omitempty"`
	RegistrationNumber string `json:"registrationNumber,omitempty"`

	Postcode       string `json:"postcode,omitempty"`
	AnnualTurnover int64  `json:"annualTurnover,omitempty"`
}

func (d BusinessDetails) clone() BusinessDetails {
	d.Partners = append([]Partner(nil), d.Partners...)
	d.Directors = append([]string(nil), d.Directors...)
	return d
}

type Partner struct {
	Name         string `json:"name"`
	SharePercent int    `json:"sharePercent"`
}

type ProductRequest struct {
	ProductID  string `json:"productId"`
	Amount     int64  `json:"amount"`
	TermMonths int    `json:"termMonths,omitempty"`
}

type Document struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Kind       string            `json:"kind"`
	SizeBytes  int64             `json:"sizeBytes"`
	UploadedAt time.Time         `json:"uploadedAt"`
	Analysis   *DocumentAnalysis `json:"analysis,omitempty"`
}

type DocumentAnalysis struct {
	Summary    string            `json:"summary"`
	Confidence float64           `json:"confidence"`
	Fields     map[string]string `json:"fields"`
	AnalysedAt time.Time         `json:"analysedAt"`
}

type Declaration struct {
	AcceptedTerms bool      `json:"acceptedTerms"`
	SignatoryName string    `json:"signatoryName"`
	AcceptedAt    time.Time `json:"acceptedAt"`
}

type RiskAssessment struct {
	Score          int       `json:"score"`
	Band           RiskBand  `json:"band"`
	Recommendation Decision  `json:"recommendation"`
	Factors        []string  `json:"factors"`
	AssessedAt     time.Time `json:"assessedAt"`
}

type ReviewRecord struct {
	ReviewerID string     `json:"reviewerId"`
	StartedAt  time.Time  `json:"startedAt"`
	Decision   Decision   `json:"decision,omitempty"`
	Note       string     `json:"note,omitempty"`
	DecidedAt  *time.Time `json:"decidedAt,omitempty"`
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
