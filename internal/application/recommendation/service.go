// Package recommendation runs the recommendation pipeline: intent, constraints,
// retrieval and safety validation, in that order, for one request at a time.
package recommendation

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/alchemorsel/mealguard/internal/application/retrieval"
	"github.com/alchemorsel/mealguard/internal/application/safety"
	"github.com/alchemorsel/mealguard/internal/domain/recommendation"
	"github.com/alchemorsel/mealguard/internal/ports/inbound"
	"github.com/alchemorsel/mealguard/internal/ports/outbound"
	"github.com/alchemorsel/mealguard/pkg/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// Stage names, also used as metric and span labels
const (
	StageIntent      = "intent"
	StageConstraints = "constraints"
	StageRetrieval   = "retrieval"
	StageValidation  = "validation"
)

// Pipeline outcomes reported to the observer
const (
	OutcomeRecommended = "recommended"
	OutcomeNoSafeMatch = "no_safe_match"
	OutcomeFailed      = "failed"
)

const (
	defaultIntentTimeout      = 15 * time.Second
	defaultConstraintsTimeout = 30 * time.Second
	defaultRetrievalTimeout   = 60 * time.Second
	defaultValidationTimeout  = 30 * time.Second
)

// IntentParser turns free text into intent
type IntentParser interface {
	Parse(ctx context.Context, query string) (recommendation.UserIntent, error)
}

// ConstraintResolver produces today's budget-adjusted constraints
type ConstraintResolver interface {
	Resolve(ctx context.Context, conditions []string, userID string, asOf time.Time) (recommendation.NutritionConstraints, error)
}

// CandidateRetriever generates candidates for an augmented query
type CandidateRetriever interface {
	Retrieve(ctx context.Context, q retrieval.AugmentedQuery) ([]recommendation.CandidateRecipe, error)
}

// SafetyChecker validates candidates
type SafetyChecker interface {
	Check(ctx context.Context, candidates []recommendation.CandidateRecipe, constraints recommendation.NutritionConstraints, intent recommendation.UserIntent) (*safety.CheckResult, error)
}

// Stages are the four pipeline steps
type Stages struct {
	Intent      IntentParser
	Constraints ConstraintResolver
	Retriever   CandidateRetriever
	Safety      SafetyChecker
}

// Observer is told about stage timings and outcomes. RequestStarted may
// return a context carrying request-scoped values for downstream logging.
type Observer interface {
	RequestStarted(ctx context.Context, requestID, userID string) context.Context
	StageFinished(ctx context.Context, stage string, err error, elapsed time.Duration)
	PipelineFinished(ctx context.Context, outcome, code string)
	Verdict(ctx context.Context, status recommendation.SafetyStatus)
	LedgerWrite(ctx context.Context, err error)
}

// Config holds per-stage timeouts. Zero values fall back to defaults.
type Config struct {
	IntentTimeout      time.Duration
	ConstraintsTimeout time.Duration
	RetrievalTimeout   time.Duration
	ValidationTimeout  time.Duration
	// Location decides what "today" means for the nutrition ledger when the
	// session does not name a time zone.
	Location *time.Location
	Now      func() time.Time
}

type stage struct {
	name    string
	code    errors.ErrorCode
	timeout time.Duration
	next    recommendation.PipelineState
}

// Service implements inbound.RecommendationService
type Service struct {
	stages   Stages
	ledger   outbound.NutritionLedger
	cfg      Config
	observer Observer
	tracer   trace.Tracer
	logger   *zap.Logger

	intentStage      stage
	constraintsStage stage
	retrievalStage   stage
	validationStage  stage
}

var _ inbound.RecommendationService = (*Service)(nil)

// NewService creates the orchestrator. observer and tracer may be nil.
func NewService(stages Stages, ledger outbound.NutritionLedger, cfg Config, observer Observer, tracer trace.Tracer, logger *zap.Logger) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if observer == nil {
		observer = nopObserver{}
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}

	return &Service{
		stages:   stages,
		ledger:   ledger,
		cfg:      cfg,
		observer: observer,
		tracer:   tracer,
		logger:   logger.Named("recommendation-service"),

		intentStage:      stage{StageIntent, errors.CodeIntentParsing, orDefault(cfg.IntentTimeout, defaultIntentTimeout), recommendation.StateIntentParsed},
		constraintsStage: stage{StageConstraints, errors.CodeRAG, orDefault(cfg.ConstraintsTimeout, defaultConstraintsTimeout), recommendation.StateConstraintsResolved},
		retrievalStage:   stage{StageRetrieval, errors.CodeRAG, orDefault(cfg.RetrievalTimeout, defaultRetrievalTimeout), recommendation.StateRetrieved},
		validationStage:  stage{StageValidation, errors.CodeSafetyCheck, orDefault(cfg.ValidationTimeout, defaultValidationTimeout), recommendation.StateValidated},
	}
}

// GetRecommendations runs the full pipeline for one query
func (s *Service) GetRecommendations(ctx context.Context, session *recommendation.Session, rawQuery string) (*recommendation.RecommendationResult, error) {
	return s.run(ctx, session, rawQuery, nil)
}

// GetRecommendationsWithIngredients runs the pipeline with a detected
// ingredient list added to the request's instructions
func (s *Service) GetRecommendationsWithIngredients(ctx context.Context, session *recommendation.Session, rawQuery string, detected []string) (*recommendation.RecommendationResult, error) {
	return s.run(ctx, session, rawQuery, detected)
}

func (s *Service) run(ctx context.Context, session *recommendation.Session, rawQuery string, detected []string) (*recommendation.RecommendationResult, error) {
	if session == nil {
		return nil, errors.NewBadRequestError("session is required")
	}

	run := recommendation.NewPipelineRun(uuid.NewString(), s.cfg.Now)
	log := s.logger.With(
		zap.String("request_id", run.RequestID()),
		zap.String("session_id", session.ID),
	)

	ctx = s.observer.RequestStarted(ctx, run.RequestID(), session.UserID)
	ctx, span := s.tracer.Start(ctx, "recommendation.pipeline", trace.WithAttributes(
		attribute.String("request_id", run.RequestID()),
		attribute.String("session_id", session.ID),
	))
	defer span.End()

	log.Info("Recommendation request received", zap.Int("detected_ingredients", len(detected)))

	var intent recommendation.UserIntent
	err := s.stage(ctx, run, s.intentStage, func(ctx context.Context) error {
		parsed, err := s.stages.Intent.Parse(ctx, rawQuery)
		intent = parsed
		return err
	})
	if err != nil {
		return nil, s.fail(ctx, span, run, StageIntent, err, log)
	}
	intent = intent.Merge(session.Profile)
	if len(detected) > 0 {
		intent = intent.WithInstructions("Available ingredients: " + strings.Join(detected, ", "))
	}

	var constraints recommendation.NutritionConstraints
	err = s.stage(ctx, run, s.constraintsStage, func(ctx context.Context) error {
		resolved, err := s.stages.Constraints.Resolve(ctx, intent.HealthConditions(), session.UserID, s.today(session))
		constraints = resolved
		return err
	})
	if err != nil {
		return nil, s.fail(ctx, span, run, StageConstraints, err, log)
	}

	var candidates []recommendation.CandidateRecipe
	err = s.stage(ctx, run, s.retrievalStage, func(ctx context.Context) error {
		found, err := s.stages.Retriever.Retrieve(ctx, retrieval.NewAugmentedQuery(rawQuery, intent, constraints))
		candidates = found
		return err
	})
	if err != nil {
		return nil, s.fail(ctx, span, run, StageRetrieval, err, log)
	}

	var checked *safety.CheckResult
	err = s.stage(ctx, run, s.validationStage, func(ctx context.Context) error {
		res, err := s.stages.Safety.Check(ctx, candidates, constraints, intent)
		checked = res
		return err
	})
	if err != nil {
		return nil, s.fail(ctx, span, run, StageValidation, err, log)
	}
	for _, vc := range checked.Verdicts {
		s.observer.Verdict(ctx, vc.Verdict.Status)
	}

	result := &recommendation.RecommendationResult{
		RequestID:   run.RequestID(),
		Query:       rawQuery,
		Intent:      intent,
		Constraints: constraints,
		Candidates:  checked.Kept,
		Summary:     checked.Summary,
		GeneratedAt: s.cfg.Now(),
	}
	if err := run.Advance(recommendation.StateDone); err != nil {
		return nil, s.fail(ctx, span, run, StageValidation, errors.Wrap(err, "pipeline state"), log)
	}

	if session.Scratch == nil {
		session.Scratch = recommendation.NewScratch()
	}
	session.Scratch.Set(recommendation.LastRecommendationsKey, result)

	outcome := OutcomeRecommended
	if !result.HasRecommendations() {
		outcome = OutcomeNoSafeMatch
	}
	s.observer.PipelineFinished(ctx, outcome, "")
	span.SetAttributes(
		attribute.String("outcome", outcome),
		attribute.Int("candidates", len(result.Candidates)),
	)

	log.Info("Recommendation request completed",
		zap.String("outcome", outcome),
		zap.Int("candidates", len(result.Candidates)),
		zap.String("summary", result.Summary.Message),
		zap.Duration("elapsed", s.cfg.Now().Sub(run.StartedAt())),
	)
	return result, nil
}

// stage runs fn under the stage's timeout and advances the run on success.
// Errors without a kind take the stage's kind.
func (s *Service) stage(ctx context.Context, run *recommendation.PipelineRun, st stage, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, st.timeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "pipeline."+st.name, trace.WithAttributes(
		attribute.String("stage", st.name),
		attribute.String("request_id", run.RequestID()),
	))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	s.observer.StageFinished(ctx, st.name, err, time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		details := st.name + " stage failed"
		if stderrors.Is(err, context.DeadlineExceeded) {
			details = st.name + " stage timed out"
		}
		return errors.WrapAs(err, st.code, details)
	}
	span.SetStatus(codes.Ok, "")
	return run.Advance(st.next)
}

// fail moves the run to FAILED and builds the caller-facing error
func (s *Service) fail(ctx context.Context, span trace.Span, run *recommendation.PipelineRun, stageName string, err error, log *zap.Logger) error {
	failure := errors.NewPipelineFailure(stageName, err).
		WithMetadata("request_id", run.RequestID())

	if ferr := run.Fail(string(failure.Code)); ferr != nil {
		log.Error("Could not record pipeline failure", zap.Error(ferr))
	}

	s.observer.PipelineFinished(ctx, OutcomeFailed, string(failure.Code))
	span.SetStatus(codes.Error, string(failure.Code))

	log.Warn("Recommendation pipeline failed",
		zap.String("stage", stageName),
		zap.String("error_code", string(failure.Code)),
		zap.String("state", string(run.State())),
		zap.Error(err),
	)
	return failure
}

// today returns the current time in the session's zone, falling back to the
// configured one
func (s *Service) today(session *recommendation.Session) time.Time {
	loc := s.cfg.Location
	if session.Location != "" {
		if l, err := time.LoadLocation(session.Location); err == nil {
			loc = l
		} else {
			s.logger.Debug("Unknown session time zone", zap.String("location", session.Location), zap.Error(err))
		}
	}
	return s.cfg.Now().In(loc)
}

// SaveCandidate logs the n-th candidate of the last result to the ledger
// without re-running retrieval
func (s *Service) SaveCandidate(ctx context.Context, session *recommendation.Session, ordinal int) (*recommendation.CandidateRecipe, error) {
	if session == nil {
		return nil, errors.NewBadRequestError("session is required")
	}

	vc, err := session.CandidateByOrdinal(ordinal)
	switch {
	case stderrors.Is(err, recommendation.ErrNoPreviousRecommendations):
		return nil, errors.NewNotFoundError("recommendations").WithCause(err)
	case err != nil:
		return nil, errors.NewValidationError(err.Error()).WithCause(err)
	}

	err = s.ledger.AppendEntry(ctx, session.UserID, vc.Candidate, s.cfg.Now())
	s.observer.LedgerWrite(ctx, err)
	if err != nil {
		return nil, errors.NewRepositoryError("append nutrition ledger entry", err)
	}

	s.logger.Info("Candidate saved to nutrition ledger",
		zap.String("session_id", session.ID),
		zap.String("user_id", session.UserID),
		zap.Int("ordinal", ordinal),
		zap.String("recipe", vc.Candidate.Name),
	)

	candidate := vc.Candidate
	return &candidate, nil
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

type nopObserver struct{}

func (nopObserver) RequestStarted(ctx context.Context, _, _ string) context.Context { return ctx }
func (nopObserver) StageFinished(context.Context, string, error, time.Duration)     {}
func (nopObserver) PipelineFinished(context.Context, string, string)                {}
func (nopObserver) Verdict(context.Context, recommendation.SafetyStatus)            {}
func (nopObserver) LedgerWrite(context.Context, error)                              {}
