package recommendation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alchemorsel/mealguard/internal/application/constraint"
	"github.com/alchemorsel/mealguard/internal/application/intent"
	"github.com/alchemorsel/mealguard/internal/application/retrieval"
	"github.com/alchemorsel/mealguard/internal/application/safety"
	"github.com/alchemorsel/mealguard/internal/domain/recommendation"
	"github.com/alchemorsel/mealguard/internal/ports/outbound"
	apperrors "github.com/alchemorsel/mealguard/pkg/errors"
	"github.com/alchemorsel/mealguard/test/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zaptest"
)

const (
	intentReply      = `{"health_conditions":["diabetes"],"dietary_restrictions":["vegetarian"],"allergies":[],"preferences":["quick"],"instructions":""}`
	constraintsReply = `{"avoid":["candy"],"constraints":{"sugar_g":{"max":25}},"notes":"limit added sugar"}`
	candidatesReply  = `{"candidates":[
		{"name":"Bacon oat bowl","ingredients":["rolled oats","2 strips bacon"],"nutrition_facts":{"sugar_g":4}},
		{"name":"Berry smoothie","ingredients":["berries","banana","oat milk"],"nutrition_facts":{"sugar_g":22}},
		{"name":"Savory oats","ingredients":["rolled oats","spinach","feta"],"nutrition_facts":{"sugar_g":3}}
	]}`
	reviewReply = `{"verdicts":[{"index":1,"status":"SAFE","category":"none","reasons":[]}]}`
)

type recordingObserver struct {
	mu       sync.Mutex
	stages   []string
	outcomes []string
	codes    []string
	verdicts []recommendation.SafetyStatus
	writes   int
}

func (o *recordingObserver) RequestStarted(ctx context.Context, _, _ string) context.Context {
	return ctx
}

func (o *recordingObserver) StageFinished(_ context.Context, stage string, _ error, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stages = append(o.stages, stage)
}

func (o *recordingObserver) PipelineFinished(_ context.Context, outcome, code string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
	o.codes = append(o.codes, code)
}

func (o *recordingObserver) Verdict(_ context.Context, status recommendation.SafetyStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.verdicts = append(o.verdicts, status)
}

func (o *recordingObserver) LedgerWrite(_ context.Context, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err == nil {
		o.writes++
	}
}

// PipelineTestSuite runs the real stages against a scripted model
type PipelineTestSuite struct {
	suite.Suite
	model    *testutils.ScriptedModel
	medical  *testutils.MockMedicalStore
	recipes  *testutils.MockRecipeStore
	ledger   *testutils.InMemoryLedger
	observer *recordingObserver
	now      time.Time
	session  *recommendation.Session
}

func (s *PipelineTestSuite) SetupTest() {
	s.model = testutils.NewScriptedModel()
	s.medical = new(testutils.MockMedicalStore)
	s.recipes = new(testutils.MockRecipeStore)
	s.ledger = testutils.NewInMemoryLedger(time.UTC)
	s.observer = &recordingObserver{}
	s.now = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	s.session = recommendation.NewSession("user-1", recommendation.Profile{})

	s.medical.On("Search", mock.Anything, "diabetes dietary guidance", mock.Anything).
		Return([]outbound.Passage{{ID: "ada-1", Text: "Keep added sugar under 25 g per day."}}, nil)
}

func (s *PipelineTestSuite) service(cfg Config) *Service {
	logger := zaptest.NewLogger(s.T())
	cfg.Now = func() time.Time { return s.now }
	stages := Stages{
		Intent:      intent.NewExtractor(s.model, 0, logger),
		Constraints: constraint.NewResolver(s.medical, s.ledger, testutils.NewMapConstraintCache(), s.model, constraint.Config{}, logger),
		Retriever:   retrieval.NewRetriever(s.recipes, s.model, retrieval.Config{}, nil, logger),
		Safety:      safety.NewValidator(s.model, logger),
	}
	return NewService(stages, s.ledger, cfg, s.observer, nil, logger)
}

func (s *PipelineTestSuite) scriptHappyPath() {
	s.model.On(intent.Task, intentReply)
	s.model.On(constraint.Task, constraintsReply)
	s.model.On(retrieval.Task, candidatesReply)
	s.model.On(safety.Task, reviewReply)
	s.recipes.On("Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]outbound.Passage{{ID: "r1", Title: "Oats", Text: "rolled oats with toppings"}}, nil)
}

func (s *PipelineTestSuite) TestEndToEnd() {
	// Arrange
	s.scriptHappyPath()
	s.ledger.Seed("user-1", s.now.Add(-2*time.Hour), map[string]float64{recommendation.NutrientSugar: 15})

	// Act
	result, err := s.service(Config{}).GetRecommendations(context.Background(), s.session, "quick diabetic breakfast ideas")

	// Assert
	s.Require().NoError(err)
	s.Require().Len(result.Candidates, 1)
	s.Equal("Savory oats", result.Candidates[0].Candidate.Name)
	s.Equal("1 of 3 passed safety check", result.Summary.Message)
	s.Equal(1, result.Summary.FilterReasons["restriction.vegetarian"])
	s.Equal(1, result.Summary.FilterReasons["bound.sugar_g.max"])

	sugar, ok := result.Constraints.Bound(recommendation.NutrientSugar)
	s.Require().True(ok)
	s.Equal(10.0, *sugar.Max, "validation uses the budget-adjusted bound")

	s.Equal([]string{StageIntent, StageConstraints, StageRetrieval, StageValidation}, s.observer.stages)
	s.Equal([]string{OutcomeRecommended}, s.observer.outcomes)
	s.Len(s.observer.verdicts, 3)

	stored, err := s.session.LastRecommendations()
	s.Require().NoError(err)
	s.Same(result, stored)

	retrievalPrompt := s.model.CallsFor(retrieval.Task)[0].Prompt
	s.Contains(retrievalPrompt, "Dietary restrictions: vegetarian")
	s.Contains(retrievalPrompt, "sugar_g<=10")
}

func (s *PipelineTestSuite) TestSaveCandidateUsesScratch() {
	s.scriptHappyPath()
	svc := s.service(Config{})
	_, err := svc.GetRecommendations(context.Background(), s.session, "breakfast recipes")
	s.Require().NoError(err)
	searches := len(s.recipes.Calls)

	saved, err := svc.SaveCandidate(context.Background(), s.session, 1)

	s.Require().NoError(err)
	s.Equal("Berry smoothie", saved.Name, "without logged intake the smoothie fits the sugar budget")
	s.Equal(1, s.ledger.Entries("user-1"))
	s.Equal(1, s.observer.writes)
	s.Len(s.recipes.Calls, searches, "saving never re-runs retrieval")
}

func (s *PipelineTestSuite) TestSaveCandidateErrors() {
	svc := s.service(Config{})

	_, err := svc.SaveCandidate(context.Background(), s.session, 1)
	s.True(apperrors.Is(err, apperrors.CodeNotFound))

	s.session.Scratch.Set(recommendation.LastRecommendationsKey, &recommendation.RecommendationResult{})
	_, err = svc.SaveCandidate(context.Background(), s.session, 2)
	s.True(apperrors.Is(err, apperrors.CodeValidationFailed))
	s.Zero(s.ledger.Entries("user-1"))
}

func (s *PipelineTestSuite) TestStoreTimeoutFailsWithRAGError() {
	// Arrange
	s.model.On(intent.Task, intentReply)
	s.model.On(constraint.Task, constraintsReply)
	s.recipes.On("Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)

	// Act
	result, err := s.service(Config{RetrievalTimeout: 30 * time.Millisecond}).
		GetRecommendations(context.Background(), s.session, "dinner recipe")

	// Assert
	s.Nil(result)
	s.Require().Error(err)
	s.True(apperrors.Is(err, apperrors.CodeRAG))

	var appErr *apperrors.AppError
	s.Require().True(errors.As(err, &appErr))
	s.Equal(apperrors.FailureMessage, appErr.Message)
	s.Equal(StageRetrieval, appErr.Metadata["stage"])
	s.NotEmpty(appErr.Metadata["request_id"])
	s.ErrorIs(err, context.DeadlineExceeded)

	s.Empty(s.model.CallsFor(retrieval.Task), "no generation after a failed search")
	s.Equal([]string{OutcomeFailed}, s.observer.outcomes)
	s.Equal([]string{string(apperrors.CodeRAG)}, s.observer.codes)

	_, err = s.session.LastRecommendations()
	s.ErrorIs(err, recommendation.ErrNoPreviousRecommendations, "failed runs leave the scratch untouched")
}

func (s *PipelineTestSuite) TestIntentFailureStopsPipeline() {
	s.model.On(intent.Task, "I think you want food.")

	_, err := s.service(Config{}).GetRecommendations(context.Background(), s.session, "something")

	s.True(apperrors.Is(err, apperrors.CodeIntentParsing))
	s.Equal([]string{StageIntent}, s.observer.stages)
	s.medical.AssertNotCalled(s.T(), "Search", mock.Anything, mock.Anything, mock.Anything)
}

func (s *PipelineTestSuite) TestProfileAndDetectedIngredientsMerge() {
	s.scriptHappyPath()
	s.session.Profile = recommendation.Profile{Allergies: []string{"peanuts"}}

	result, err := s.service(Config{}).GetRecommendationsWithIngredients(context.Background(), s.session,
		"what can I cook", []string{"spinach", "feta"})

	s.Require().NoError(err)
	s.Contains(result.Intent.Allergies(), "peanuts")
	s.Contains(result.Intent.Instructions(), "Available ingredients: spinach, feta")
	s.Contains(s.model.CallsFor(safety.Task)[0].Prompt, "Allergies: peanuts")
}

func TestPipelineTestSuite(t *testing.T) {
	suite.Run(t, new(PipelineTestSuite))
}

type stubStages struct {
	candidates []recommendation.CandidateRecipe
	checkErr   error
}

func (stubStages) Parse(context.Context, string) (recommendation.UserIntent, error) {
	return recommendation.UserIntent{}, nil
}

func (stubStages) Resolve(context.Context, []string, string, time.Time) (recommendation.NutritionConstraints, error) {
	return recommendation.PermissiveConstraints(), nil
}

func (s stubStages) Retrieve(context.Context, retrieval.AugmentedQuery) ([]recommendation.CandidateRecipe, error) {
	return s.candidates, nil
}

func (s stubStages) Check(_ context.Context, candidates []recommendation.CandidateRecipe, _ recommendation.NutritionConstraints, _ recommendation.UserIntent) (*safety.CheckResult, error) {
	if s.checkErr != nil {
		return nil, s.checkErr
	}
	var verdicts []recommendation.SafetyVerdict
	res := &safety.CheckResult{}
	for _, c := range candidates {
		v := recommendation.SafetyVerdict{Status: recommendation.StatusUnsafe}
		verdicts = append(verdicts, v)
		res.Verdicts = append(res.Verdicts, recommendation.ValidatedCandidate{Candidate: c, Verdict: v})
	}
	res.Summary = recommendation.Summarize(verdicts)
	return res, nil
}

func stubService(t *testing.T, stub stubStages, obs Observer) *Service {
	return NewService(Stages{Intent: stub, Constraints: stub, Retriever: stub, Safety: stub},
		testutils.NewInMemoryLedger(time.UTC), Config{}, obs, nil, zaptest.NewLogger(t))
}

func TestGetRecommendations_NoSafeMatchIsNotAnError(t *testing.T) {
	obs := &recordingObserver{}
	stub := stubStages{candidates: []recommendation.CandidateRecipe{
		{Name: "A", Ingredients: []recommendation.Ingredient{{Name: "x"}}},
		{Name: "B", Ingredients: []recommendation.Ingredient{{Name: "y"}}},
	}}
	session := recommendation.NewSession("user-2", recommendation.Profile{})

	result, err := stubService(t, stub, obs).GetRecommendations(context.Background(), session, "anything")

	require.NoError(t, err)
	assert.False(t, result.HasRecommendations())
	assert.Equal(t, "0 of 2 passed safety check", result.Summary.Message)
	assert.Equal(t, []string{OutcomeNoSafeMatch}, obs.outcomes)
}

func TestGetRecommendations_UntypedStageErrorTakesStageKind(t *testing.T) {
	stub := stubStages{checkErr: errors.New("validator exploded")}

	_, err := stubService(t, stub, nil).GetRecommendations(context.Background(), recommendation.NewSession("u", recommendation.Profile{}), "q")

	assert.True(t, apperrors.Is(err, apperrors.CodeSafetyCheck))
	assert.EqualError(t, errors.Unwrap(err), "SAFETY_CHECK_ERROR: Operation failed (validation stage failed)")
	assert.ErrorContains(t, err, "validator exploded")
}

func TestGetRecommendations_RequiresSession(t *testing.T) {
	_, err := stubService(t, stubStages{}, nil).GetRecommendations(context.Background(), nil, "q")

	assert.True(t, apperrors.Is(err, apperrors.CodeBadRequest))
}

// Concurrent requests from different sessions never see each other's results.
func TestGetRecommendations_SessionsAreIsolated(t *testing.T) {
	stub := stubStages{candidates: []recommendation.CandidateRecipe{{Name: "A", Ingredients: []recommendation.Ingredient{{Name: "x"}}}}}
	svc := stubService(t, stub, nil)

	sessions := make([]*recommendation.Session, 8)
	var wg sync.WaitGroup
	for i := range sessions {
		sessions[i] = recommendation.NewSession("user", recommendation.Profile{})
		wg.Add(1)
		go func(sess *recommendation.Session) {
			defer wg.Done()
			_, err := svc.GetRecommendations(context.Background(), sess, "q")
			assert.NoError(t, err)
		}(sessions[i])
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, sess := range sessions {
		res, err := sess.LastRecommendations()
		require.NoError(t, err)
		assert.False(t, seen[res.RequestID])
		seen[res.RequestID] = true
	}
}
