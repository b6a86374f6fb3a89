package service

import (
	"context"
	"fmt"
	"time"

	"github.com/smeportal/onboarding-server/internal/clock"
	"github.com/smeportal/onboarding-server/internal/model"
)

const (
	bandLowCeiling    = 40
	bandMediumCeiling = 70
)

// AssessmentService stands in for the document analysis and credit scoring
// back ends. Results are fixed or derived from the application, returned
// after a configurable delay.
type AssessmentService struct {
	clock   clock.Clock
	latency time.Duration
}

func NewAssessmentService(c clock.Clock, latency time.Duration) *AssessmentService {
	if c == nil {
		c = clock.New()
	}
	return &AssessmentService{clock: c, latency: latency}
}

func (s *AssessmentService) AnalyseDocument(ctx context.Context, doc model.Document) (*model.DocumentAnalysis, error) {
	if err := clock.Sleep(ctx, s.clock, s.latency); err != nil {
		return nil, fmt.Errorf("analyse document: %w", err)
	}

	analysis := &model.DocumentAnalysis{AnalysedAt: s.clock.Now()}
	switch doc.Kind {
	case "bank_statement":
		analysis.Summary = "Three months of statements with regular incoming payments"
		analysis.Confidence = 0.94
		analysis.Fields = map[string]string{
			"statementPeriod": "3 months",
			"averageBalance":  "18450",
			"bouncedPayments": "0",
		}
	case "financial_accounts":
		analysis.Summary = "Filed accounts showing a profitable trading year"
		analysis.Confidence = 0.91
		analysis.Fields = map[string]string{
			"turnover":  "420000",
			"netProfit": "61000",
			"yearEnd":   "31 March",
		}
	case "identity":
		analysis.Summary = "Photo identification matches the named applicant"
		analysis.Confidence = 0.97
		analysis.Fields = map[string]string{
			"documentType": "passport",
			"expiryValid":  "true",
		}
	default:
		analysis.Summary = "Document received; no structured data extracted"
		analysis.Confidence = 0.62
		analysis.Fields = map[string]string{"pages": "1"}
	}
	return analysis, nil
}

// ScoreRisk returns a 0-100 score where higher means riskier.
func (s *AssessmentService) ScoreRisk(ctx context.Context, app *model.Application) (*model.RiskAssessment, error) {
	if err := clock.Sleep(ctx, s.clock, s.latency); err != nil {
		return nil, fmt.Errorf("score risk: %w", err)
	}

	score, factors := riskFactors(app)
	score = min(max(score, 0), 100)

	risk := &model.RiskAssessment{
		Score:      score,
		Factors:    factors,
		AssessedAt: s.clock.Now(),
	}
	switch {
	case score < bandLowCeiling:
		risk.Band = model.RiskBandLow
		risk.Recommendation = model.DecisionApprove
	case score < bandMediumCeiling:
		risk.Band = model.RiskBandMedium
		risk.Recommendation = model.DecisionRefer
	default:
		risk.Band = model.RiskBandHigh
		risk.Recommendation = model.DecisionReject
	}
	return risk, nil
}

func riskFactors(app *model.Application) (int, []string) {
	var factors []string
	score := 0

	switch app.BusinessType {
	case model.BusinessTypeLimitedCompany:
		score += 20
	case model.BusinessTypePartnership, model.BusinessTypeOtherOrganization:
		score += 30
	default:
		score += 35
		factors = append(factors, "unincorporated sole trader")
	}

	switch {
	case app.TotalAmount > 500000:
		score += 25
		factors = append(factors, "requested amount above 500,000")
	case app.TotalAmount > 100000:
		score += 15
		factors = append(factors, "requested amount above 100,000")
	case app.TotalAmount > 25000:
		score += 5
	}

	turnover := app.Details.AnnualTurnover
	switch {
	case turnover <= 0:
		score += 10
		factors = append(factors, "annual turnover not declared")
	case app.TotalAmount*2 > turnover:
		score += 20
		factors = append(factors, "borrowing exceeds half of annual turnover")
	}

	for _, p := range app.Products {
		if p.ProductID == "revolving-credit" || p.ProductID == "invoice-finance" {
			score += 5
			factors = append(factors, p.ProductID+" requested")
		}
	}

	if len(app.Documents) == 0 {
		score += 10
		factors = append(factors, "no supporting documents")
	}
	for _, d := range app.Documents {
		if d.Analysis != nil && d.Analysis.Confidence < 0.8 {
			score += 5
			factors = append(factors, "low confidence extraction from "+d.Name)
		}
	}

	return score, factors
}
