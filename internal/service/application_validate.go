package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/smeportal/onboarding-server/internal/model"
	"github.com/smeportal/onboarding-server/internal/util"
)

const (
	dateLayout       = "2006-01-02"
	minOwnerAge      = 18
	minPartners      = 2
	maxDocumentBytes = 10 << 20
)

var documentKinds = []string{"bank_statement", "financial_accounts", "identity", "other"}

type fieldErrors map[string]string

func (f fieldErrors) require(field, value, message string) {
	if strings.TrimSpace(value) == "" {
		f[field] = message
	}
}

// normalizeDetails trims free text and canonicalises identifiers before validation.
func normalizeDetails(d model.BusinessDetails) model.BusinessDetails {
	d.TradingName = strings.TrimSpace(d.TradingName)
	d.OwnerFullName = strings.TrimSpace(d.OwnerFullName)
	d.PartnershipName = strings.TrimSpace(d.PartnershipName)
	d.CompanyName = strings.TrimSpace(d.CompanyName)
	d.CompanyNumber = strings.ToUpper(strings.TrimSpace(d.CompanyNumber))
	d.OrganizationName = strings.TrimSpace(d.OrganizationName)
	d.OrganizationType = strings.TrimSpace(d.OrganizationType)
	d.RegistrationNumber = strings.TrimSpace(d.RegistrationNumber)
	d.Postcode = strings.ToUpper(strings.TrimSpace(d.Postcode))
	for i := range d.Partners {
		d.Partners[i].Name = strings.TrimSpace(d.Partners[i].Name)
	}
	for i := range d.Directors {
		d.Directors[i] = strings.TrimSpace(d.Directors[i])
	}
	return d
}

func validateBusinessDetails(bt model.BusinessType, d model.BusinessDetails, today time.Time) fieldErrors {
	errs := fieldErrors{}

	switch bt {
	case model.BusinessTypeSoleTrader:
		errs.require("tradingName", d.TradingName, "Trading name is required")
		errs.require("ownerFullName", d.OwnerFullName, "Owner's full name is required")
		validateDateOfBirth(errs, d.DateOfBirth, today)

	case model.BusinessTypePartnership:
		errs.require("partnershipName", d.PartnershipName, "Partnership name is required")
		validatePartners(errs, d.Partners)

	case model.BusinessTypeLimitedCompany:
		errs.require("companyName", d.CompanyName, "Company name is required")
		switch {
		case d.CompanyNumber == "":
			errs["companyNumber"] = "Company number is required"
		case !util.IsValidCompanyNumber(d.CompanyNumber):
			errs["companyNumber"] = "Company number must be 8 letters or digits"
		}
		validateIncorporationDate(errs, d.IncorporationDate, today)
		validateDirectors(errs, d.Directors)

	case model.BusinessTypeOtherOrganization:
		errs.require("organizationName", d.OrganizationName, "Organisation name is required")
		errs.require("organizationType", d.OrganizationType, "Organisation type is required")
		errs.require("registrationNumber", d.RegistrationNumber, "Registration number is required")

	default:
		errs["businessType"] = "Unknown business type"
	}

	switch {
	case d.Postcode == "":
		errs["postcode"] = "Postcode is required"
	case !util.IsValidPostcode(d.Postcode):
		errs["postcode"] = "Enter a valid UK postcode"
	}
	if d.AnnualTurnover < 0 {
		errs["annualTurnover"] = "Annual turnover cannot be negative"
	}
	return errs
}

func validateDateOfBirth(errs fieldErrors, value string, today time.Time) {
	if value == "" {
		errs["dateOfBirth"] = "Date of birth is required"
		return
	}
	dob, err := time.Parse(dateLayout, value)
	if err != nil {
		errs["dateOfBirth"] = "Date of birth must be YYYY-MM-DD"
		return
	}
	if dob.AddDate(minOwnerAge, 0, 0).After(today) {
		errs["dateOfBirth"] = fmt.Sprintf("The owner must be at least %d", minOwnerAge)
	}
}

func validateIncorporationDate(errs fieldErrors, value string, today time.Time) {
	if value == "" {
		errs["incorporationDate"] = "Incorporation date is required"
		return
	}
	date, err := time.Parse(dateLayout, value)
	if err != nil {
		errs["incorporationDate"] = "Incorporation date must be YYYY-MM-DD"
		return
	}
	if date.After(today) {
		errs["incorporationDate"] = "Incorporation date cannot be in the future"
	}
}

func validatePartners(errs fieldErrors, partners []model.Partner) {
	if len(partners) < minPartners {
		errs["partners"] = fmt.Sprintf("At least %d partners are required", minPartners)
		return
	}

	total := 0
	for i, p := range partners {
		if p.Name == "" {
			errs[fmt.Sprintf("partners[%d].name", i)] = "Partner name is required"
		}
		if p.SharePercent <= 0 || p.SharePercent > 100 {
			errs[fmt.Sprintf("partners[%d].sharePercent", i)] = "Share must be between 1 and 100"
		}
		total += p.SharePercent
	}
	if total != 100 {
		errs["partners"] = fmt.Sprintf("Partner shares must add up to 100 (currently %d)", total)
	}
}

func validateDirectors(errs fieldErrors, directors []string) {
	named := 0
	for i, d := range directors {
		if d == "" {
			errs[fmt.Sprintf("directors[%d]", i)] = "Director name is required"
			continue
		}
		named++
	}
	if named == 0 {
		errs["directors"] = "At least one director is required"
	}
}

// validateProducts checks each request against the catalog and returns the
// total requested amount.
func validateProducts(ctx context.Context, bt model.BusinessType, requests []model.ProductRequest, catalog *ProductService) (fieldErrors, int64) {
	errs := fieldErrors{}
	if len(requests) == 0 {
		errs["products"] = "Select at least one product"
		return errs, 0
	}

	var total int64
	seen := make(map[string]bool, len(requests))
	for i, req := range requests {
		idField := fmt.Sprintf("products[%d].productId", i)
		amountField := fmt.Sprintf("products[%d].amount", i)

		product, err := catalog.Get(ctx, req.ProductID)
		if err != nil {
			errs[idField] = "Unknown product"
			continue
		}
		if seen[req.ProductID] {
			errs[idField] = "Product already selected"
			continue
		}
		seen[req.ProductID] = true

		if !product.EligibleFor(bt) {
			errs[idField] = fmt.Sprintf("%s is not available for this business type", product.Name)
			continue
		}
		if req.Amount < product.MinAmount || req.Amount > product.MaxAmount {
			errs[amountField] = fmt.Sprintf("Amount must be between %d and %d", product.MinAmount, product.MaxAmount)
			continue
		}
		if req.TermMonths < 0 {
			errs[fmt.Sprintf("products[%d].termMonths", i)] = "Term cannot be negative"
			continue
		}
		total += req.Amount
	}
	return errs, total
}

func validateDocument(in DocumentInput) fieldErrors {
	errs := fieldErrors{}
	errs.require("name", in.Name, "Document name is required")
	if !util.IsValidEnum(in.Kind, documentKinds) || in.Kind == "" {
		errs["kind"] = "Choose a document type"
	}
	if in.SizeBytes <= 0 || in.SizeBytes > maxDocumentBytes {
		errs["sizeBytes"] = "Documents must be between 1 byte and 10 MB"
	}
	return errs
}

func validateDeclaration(in DeclarationInput) fieldErrors {
	errs := fieldErrors{}
	if !in.AcceptedTerms {
		errs["acceptedTerms"] = "You must accept the declaration"
	}
	errs.require("signatoryName", in.SignatoryName, "Signatory name is required")
	return errs
}
