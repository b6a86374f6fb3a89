package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/smeportal/onboarding-server/internal/audit"
	"github.com/smeportal/onboarding-server/internal/auth"
	"github.com/smeportal/onboarding-server/internal/clock"
	apperrors "github.com/smeportal/onboarding-server/internal/errors"
	"github.com/smeportal/onboarding-server/internal/model"
	"github.com/smeportal/onboarding-server/internal/repository"
)

const msgNoAccess = "You do not have access to this application"

type CreateApplicationInput struct {
	BusinessType model.BusinessType `json:"businessType"`
	Region       string             `json:"region"`
}

type DocumentInput struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	SizeBytes int64  `json:"sizeBytes"`
}

type DeclarationInput struct {
	AcceptedTerms bool   `json:"acceptedTerms"`
	SignatoryName string `json:"signatoryName"`
}

// ApplicationService drives the onboarding wizard and the review workflow.
// Every mutation goes through the repository's Update so status checks and
// writes happen under the same lock.
type ApplicationService struct {
	apps       repository.ApplicationRepository
	products   *ProductService
	assessment *AssessmentService
	clock      clock.Clock
}

func NewApplicationService(
	apps repository.ApplicationRepository,
	products *ProductService,
	assessment *AssessmentService,
	c clock.Clock,
) *ApplicationService {
	if c == nil {
		c = clock.New()
	}
	return &ApplicationService{
		apps:       apps,
		products:   products,
		assessment: assessment,
		clock:      c,
	}
}

func (s *ApplicationService) Create(ctx context.Context, owner *model.User, in CreateApplicationInput) (*model.Application, error) {
	if !auth.CheckPermission(owner, auth.ActionCreateApplication, auth.Resource{}) {
		return nil, apperrors.Forbidden("Only customers can start an application")
	}

	bt, region := in.BusinessType, strings.TrimSpace(in.Region)
	if owner.Business != nil {
		if bt == "" {
			bt = owner.Business.BusinessType
		}
		if region == "" {
			region = owner.Business.Region
		}
	}
	if !bt.Valid() {
		return nil, apperrors.FieldErrors(map[string]string{"businessType": "Choose a business type"})
	}

	now := s.clock.Now()
	app := &model.Application{
		ID:           uuid.NewString(),
		OwnerID:      owner.ID,
		BusinessType: bt,
		Region:       region,
		Status:       model.ApplicationStatusDraft,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.apps.Create(ctx, app); err != nil {
		return nil, apperrors.Database(err)
	}

	log.Info().Str("applicationId", app.ID).Str("userId", owner.ID).Str("businessType", string(bt)).Msg("application created")
	return app, nil
}

// List returns the applications user may see: customers their own, relationship
// managers submitted applications inside their scope, superusers everything.
func (s *ApplicationService) List(ctx context.Context, user *model.User) ([]model.Application, error) {
	if user == nil || !user.IsActive {
		return nil, apperrors.Forbidden(msgNoAccess)
	}

	var (
		apps []model.Application
		err  error
	)
	if user.Role == model.RoleCustomer {
		apps, err = s.apps.FindByOwnerID(ctx, user.ID)
	} else {
		apps, err = s.apps.FindAll(ctx)
	}
	if err != nil {
		return nil, apperrors.Database(err)
	}

	visible := make([]model.Application, 0, len(apps))
	for i := range apps {
		app := &apps[i]
		if hiddenDraft(user, app) {
			continue
		}
		if auth.CheckPermission(user, auth.ActionViewApplication, auth.ResourceOf(app)) {
			visible = append(visible, *app)
		}
	}
	return visible, nil
}

func (s *ApplicationService) Get(ctx context.Context, user *model.User, id string) (*model.Application, error) {
	app, err := s.apps.FindByID(ctx, id)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if app == nil || hiddenDraft(user, app) {
		return nil, apperrors.NotFound("Application")
	}
	if !auth.CheckPermission(user, auth.ActionViewApplication, auth.ResourceOf(app)) {
		return nil, apperrors.Forbidden(msgNoAccess)
	}
	return app, nil
}

// hiddenDraft reports a draft seen by anyone but a customer. Drafts carry
// unvalidated personal details and no product mix to scope them by.
func hiddenDraft(user *model.User, app *model.Application) bool {
	return app.Status == model.ApplicationStatusDraft && (user == nil || user.Role != model.RoleCustomer)
}

func (s *ApplicationService) UpdateBusinessDetails(ctx context.Context, user *model.User, id string, details model.BusinessDetails) (*model.Application, error) {
	details = normalizeDetails(details)
	today := s.clock.Now()

	return s.editDraft(ctx, user, id, func(app *model.Application) error {
		if errs := validateBusinessDetails(app.BusinessType, details, today); len(errs) > 0 {
			return apperrors.FieldErrors(errs)
		}
		app.Details = details
		markStep(app, model.StepBusinessDetails)
		return nil
	})
}

func (s *ApplicationService) UpdateProducts(ctx context.Context, user *model.User, id string, requests []model.ProductRequest) (*model.Application, error) {
	requests = append([]model.ProductRequest(nil), requests...)
	for i := range requests {
		requests[i].ProductID = strings.TrimSpace(requests[i].ProductID)
	}

	return s.editDraft(ctx, user, id, func(app *model.Application) error {
		errs, total := validateProducts(ctx, app.BusinessType, requests, s.products)
		if len(errs) > 0 {
			return apperrors.FieldErrors(errs)
		}
		app.Products = requests
		app.TotalAmount = total
		markStep(app, model.StepProducts)
		return nil
	})
}

// AddDocument records an upload and attaches the mock analysis. The analysis
// runs before the write so the repository lock is never held across the delay.
func (s *ApplicationService) AddDocument(ctx context.Context, user *model.User, id string, in DocumentInput) (*model.Application, error) {
	in.Name = strings.TrimSpace(in.Name)
	if errs := validateDocument(in); len(errs) > 0 {
		return nil, apperrors.FieldErrors(errs)
	}
	if _, err := s.editable(ctx, user, id); err != nil {
		return nil, err
	}

	doc := model.Document{
		ID:         uuid.NewString(),
		Name:       in.Name,
		Kind:       in.Kind,
		SizeBytes:  in.SizeBytes,
		UploadedAt: s.clock.Now(),
	}
	analysis, err := s.assessment.AnalyseDocument(ctx, doc)
	if err != nil {
		return nil, apperrors.External("document analysis", err)
	}
	doc.Analysis = analysis

	return s.editDraft(ctx, user, id, func(app *model.Application) error {
		app.Documents = append(app.Documents, doc)
		return nil
	})
}

// CompleteDocuments closes the documents step once at least one upload exists.
func (s *ApplicationService) CompleteDocuments(ctx context.Context, user *model.User, id string) (*model.Application, error) {
	return s.editDraft(ctx, user, id, func(app *model.Application) error {
		if len(app.Documents) == 0 {
			return apperrors.FieldErrors(map[string]string{"documents": "Upload at least one document"})
		}
		markStep(app, model.StepDocuments)
		return nil
	})
}

func (s *ApplicationService) UpdateReview(ctx context.Context, user *model.User, id string, in DeclarationInput) (*model.Application, error) {
	in.SignatoryName = strings.TrimSpace(in.SignatoryName)
	if errs := validateDeclaration(in); len(errs) > 0 {
		return nil, apperrors.FieldErrors(errs)
	}
	now := s.clock.Now()

	return s.editDraft(ctx, user, id, func(app *model.Application) error {
		app.Declaration = &model.Declaration{
			AcceptedTerms: true,
			SignatoryName: in.SignatoryName,
			AcceptedAt:    now,
		}
		markStep(app, model.StepReview)
		return nil
	})
}

func (s *ApplicationService) Submit(ctx context.Context, user *model.User, id string) (*model.Application, error) {
	app, err := s.update(ctx, id, func(app *model.Application) error {
		if !auth.CheckPermission(user, auth.ActionSubmitApplication, auth.ResourceOf(app)) {
			return apperrors.Forbidden(msgNoAccess)
		}
		if app.Status != model.ApplicationStatusDraft {
			return apperrors.InvalidState("Application has already been submitted")
		}

		var missing []string
		for _, step := range model.ApplicationSteps {
			if !app.StepCompleted(step) {
				missing = append(missing, string(step))
			}
		}
		if len(missing) > 0 {
			return apperrors.InvalidState("Complete every step before submitting").
				WithDetails(map[string]any{"missingSteps": missing})
		}

		now := s.clock.Now()
		app.Status = model.ApplicationStatusSubmitted
		app.SubmittedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	audit.Log(ctx, audit.Event{
		Type:          audit.EventApplicationSubmit,
		UserID:        user.ID,
		ApplicationID: app.ID,
		Details:       map[string]interface{}{"totalAmount": app.TotalAmount},
	})
	return app, nil
}

// Review scores a submitted application and moves it to under_review.
func (s *ApplicationService) Review(ctx context.Context, reviewer *model.User, id string) (*model.Application, error) {
	current, err := s.Get(ctx, reviewer, id)
	if err != nil {
		return nil, err
	}
	if err := checkReview(reviewer, current); err != nil {
		return nil, err
	}

	risk, err := s.assessment.ScoreRisk(ctx, current)
	if err != nil {
		return nil, apperrors.External("risk assessment", err)
	}

	app, err := s.update(ctx, id, func(app *model.Application) error {
		if err := checkReview(reviewer, app); err != nil {
			return err
		}
		app.Status = model.ApplicationStatusUnderReview
		app.Risk = risk
		app.Review = &model.ReviewRecord{ReviewerID: reviewer.ID, StartedAt: s.clock.Now()}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("applicationId", app.ID).
		Str("reviewerId", reviewer.ID).
		Int("score", risk.Score).
		Str("band", string(risk.Band)).
		Msg("application under review")
	return app, nil
}

func (s *ApplicationService) Decide(ctx context.Context, reviewer *model.User, id string, decision model.Decision, note string) (*model.Application, error) {
	note = strings.TrimSpace(note)

	var status model.ApplicationStatus
	switch decision {
	case model.DecisionApprove:
		status = model.ApplicationStatusApproved
	case model.DecisionReject:
		status = model.ApplicationStatusRejected
	case model.DecisionRefer:
		status = model.ApplicationStatusReferred
	default:
		return nil, apperrors.FieldErrors(map[string]string{"decision": "Choose approve, reject or refer"})
	}
	if decision != model.DecisionApprove && note == "" {
		return nil, apperrors.FieldErrors(map[string]string{"note": "Add a note explaining the decision"})
	}

	app, err := s.update(ctx, id, func(app *model.Application) error {
		if !auth.CheckPermission(reviewer, auth.ActionDecideApplication, auth.ResourceOf(app)) {
			return apperrors.Forbidden(msgNoAccess)
		}
		if app.Status != model.ApplicationStatusUnderReview {
			return apperrors.InvalidState("Only applications under review can be decided")
		}

		now := s.clock.Now()
		app.Status = status
		if app.Review == nil {
			app.Review = &model.ReviewRecord{StartedAt: now}
		}
		app.Review.ReviewerID = reviewer.ID
		app.Review.Decision = decision
		app.Review.Note = note
		app.Review.DecidedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	audit.Log(ctx, audit.Event{
		Type:          audit.EventApplicationDecision,
		UserID:        reviewer.ID,
		ApplicationID: app.ID,
		Details:       map[string]interface{}{"decision": string(decision)},
	})
	return app, nil
}

func (s *ApplicationService) CountByStatus(ctx context.Context) (map[model.ApplicationStatus]int, error) {
	counts, err := s.apps.CountByStatus(ctx)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return counts, nil
}

// editable checks access and status without writing, for steps that do slow
// work before their update.
func (s *ApplicationService) editable(ctx context.Context, user *model.User, id string) (*model.Application, error) {
	app, err := s.apps.FindByID(ctx, id)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if app == nil {
		return nil, apperrors.NotFound("Application")
	}
	if err := checkEdit(user, app); err != nil {
		return nil, err
	}
	return app, nil
}

func (s *ApplicationService) editDraft(ctx context.Context, user *model.User, id string, fn func(app *model.Application) error) (*model.Application, error) {
	return s.update(ctx, id, func(app *model.Application) error {
		if err := checkEdit(user, app); err != nil {
			return err
		}
		return fn(app)
	})
}

func (s *ApplicationService) update(ctx context.Context, id string, fn func(app *model.Application) error) (*model.Application, error) {
	app, err := s.apps.Update(ctx, id, func(app *model.Application) error {
		if err := fn(app); err != nil {
			return err
		}
		app.UpdatedAt = s.clock.Now()
		return nil
	})
	switch {
	case errors.Is(err, repository.ErrApplicationNotFound):
		return nil, apperrors.NotFound("Application")
	case err == nil:
		return app, nil
	case apperrors.IsAppError(err):
		return nil, err
	default:
		return nil, apperrors.Database(fmt.Errorf("update application %s: %w", id, err))
	}
}

func checkEdit(user *model.User, app *model.Application) error {
	if !auth.CheckPermission(user, auth.ActionEditApplication, auth.ResourceOf(app)) {
		return apperrors.Forbidden(msgNoAccess)
	}
	if app.Status != model.ApplicationStatusDraft {
		return apperrors.InvalidState("Only draft applications can be edited")
	}
	return nil
}

func checkReview(reviewer *model.User, app *model.Application) error {
	if !auth.CheckPermission(reviewer, auth.ActionReviewApplication, auth.ResourceOf(app)) {
		return apperrors.Forbidden(msgNoAccess)
	}
	if app.Status != model.ApplicationStatusSubmitted {
		return apperrors.InvalidState("Only submitted applications can be reviewed")
	}
	return nil
}

func markStep(app *model.Application, step model.ApplicationStep) {
	if !app.StepCompleted(step) {
		app.CompletedSteps = append(app.CompletedSteps, step)
	}
}
