package service

import (
	"context"
	"slices"

	apperrors "github.com/smeportal/onboarding-server/internal/errors"
	"github.com/smeportal/onboarding-server/internal/model"
)

var allBusinessTypes = []model.BusinessType{
	model.BusinessTypeSoleTrader,
	model.BusinessTypePartnership,
	model.BusinessTypeLimitedCompany,
	model.BusinessTypeOtherOrganization,
}

var incorporated = []model.BusinessType{
	model.BusinessTypeLimitedCompany,
	model.BusinessTypeOtherOrganization,
}

func defaultCatalog() []model.Product {
	return []model.Product{
		{
			ID:                    "term-loan",
			Name:                  "Business Term Loan",
			Category:              "lending",
			Description:           "Fixed-rate borrowing repaid over an agreed term.",
			MinAmount:             1000,
			MaxAmount:             500000,
			EligibleBusinessTypes: allBusinessTypes,
		},
		{
			ID:                    "green-loan",
			Name:                  "Green Business Loan",
			Category:              "lending",
			Description:           "Discounted lending for energy efficiency and sustainability projects.",
			MinAmount:             5000,
			MaxAmount:             1000000,
			EligibleBusinessTypes: allBusinessTypes,
		},
		{
			ID:                    "revolving-credit",
			Name:                  "Revolving Credit Facility",
			Category:              "lending",
			Description:           "Draw, repay and redraw up to an agreed limit.",
			MinAmount:             25000,
			MaxAmount:             2000000,
			EligibleBusinessTypes: incorporated,
		},
		{
			ID:                    "overdraft",
			Name:                  "Business Overdraft",
			Category:              "working_capital",
			Description:           "A flexible buffer on the business current account.",
			MinAmount:             500,
			MaxAmount:             100000,
			EligibleBusinessTypes: allBusinessTypes,
		},
		{
			ID:                    "invoice-finance",
			Name:                  "Invoice Finance",
			Category:              "working_capital",
			Description:           "Release cash tied up in unpaid invoices.",
			MinAmount:             10000,
			MaxAmount:             1500000,
			EligibleBusinessTypes: []model.BusinessType{model.BusinessTypePartnership, model.BusinessTypeLimitedCompany},
		},
		{
			ID:                    "asset-finance",
			Name:                  "Asset Finance",
			Category:              "lending",
			Description:           "Spread the cost of vehicles, machinery and equipment.",
			MinAmount:             5000,
			MaxAmount:             750000,
			EligibleBusinessTypes: allBusinessTypes,
		},
		{
			ID:                    "business-credit-card",
			Name:                  "Business Credit Card",
			Category:              "cards",
			Description:           "Card spending with up to 56 days interest free.",
			MinAmount:             500,
			MaxAmount:             25000,
			EligibleBusinessTypes: allBusinessTypes,
		},
		{
			ID:                    "merchant-services",
			Name:                  "Merchant Services",
			Category:              "payments",
			Description:           "Card terminals and online payment acceptance.",
			MinAmount:             0,
			MaxAmount:             0,
			EligibleBusinessTypes: allBusinessTypes,
		},
	}
}

// ProductService serves the fixed product catalog.
type ProductService struct {
	products []model.Product
}

func NewProductService() *ProductService {
	return &ProductService{products: defaultCatalog()}
}

// List returns the catalog, narrowed to one business type when bt is set.
func (s *ProductService) List(ctx context.Context, bt model.BusinessType) []model.Product {
	out := make([]model.Product, 0, len(s.products))
	for _, p := range s.products {
		if bt != "" && !p.EligibleFor(bt) {
			continue
		}
		out = append(out, clonedProduct(p))
	}
	return out
}

func (s *ProductService) Get(ctx context.Context, id string) (*model.Product, error) {
	for _, p := range s.products {
		if p.ID == id {
			c := clonedProduct(p)
			return &c, nil
		}
	}
	return nil, apperrors.NotFound("Product")
}

// IDs lists every product id in catalog order.
func (s *ProductService) IDs() []string {
	ids := make([]string, 0, len(s.products))
	for _, p := range s.products {
		ids = append(ids, p.ID)
	}
	return ids
}

func clonedProduct(p model.Product) model.Product {
	p.EligibleBusinessTypes = slices.Clone(p.EligibleBusinessTypes)
	return p
}
