package retrieval

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alchemorsel/mealguard/internal/domain/recommendation"
	"github.com/alchemorsel/mealguard/internal/ports/outbound"
	apperrors "github.com/alchemorsel/mealguard/pkg/errors"
	"github.com/alchemorsel/mealguard/test/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		query string
		want  Route
	}{
		{"how much protein in lentils", RouteNutritionFacts},
		{"nutrition facts for oat milk", RouteNutritionFacts},
		{"grams of sugar in a banana", RouteNutritionFacts},
		{"what can I make with chickpeas", RouteRecipes},
		{"quick vegetarian dinner ideas", RouteRecipes},
		{"a low sodium recipe and how much sodium is in soy sauce", RouteBoth},
		{"chickpeas", RouteBoth},
		{"", RouteBoth},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.query))
		})
	}
}

func TestRoute_Collections(t *testing.T) {
	assert.Equal(t, []outbound.Collection{outbound.CollectionRecipes}, RouteRecipes.Collections())
	assert.Equal(t, []outbound.Collection{outbound.CollectionNutritionFacts}, RouteNutritionFacts.Collections())
	assert.Len(t, RouteBoth.Collections(), 2)
	assert.Equal(t, "both", RouteBoth.String())
}

func TestAugmentedQuery_Text(t *testing.T) {
	intent := recommendation.NewUserIntent(recommendation.IntentFields{
		HealthConditions:    []string{"diabetes"},
		DietaryRestrictions: []string{"vegetarian"},
		Instructions:        "no oven",
	})
	constraints, err := recommendation.NewNutritionConstraints(recommendation.ConstraintsDocument{
		Avoid:       []string{"candy"},
		Constraints: map[string]recommendation.Bound{"sugar_g": recommendation.MaxBound(10)},
	})
	require.NoError(t, err)

	q := NewAugmentedQuery("  breakfast ideas ", intent, constraints)

	text := q.Text()
	assert.True(t, strings.HasPrefix(text, "breakfast ideas\n"))
	assert.Contains(t, text, "Health conditions: diabetes")
	assert.Contains(t, text, "Dietary restrictions: vegetarian")
	assert.Contains(t, text, "Instructions: no oven")
	assert.Contains(t, text, "Constraints: avoid: candy; sugar_g<=10")
	assert.NotContains(t, text, "Allergies")
}

func TestEnvelope_FlexibleShapes(t *testing.T) {
	raw := `{"candidates":[
		{"title":"Veggie Omelette","ingredients":["2 eggs",{"item":"spinach","amount":30,"unit":"g"},""],
		 "steps":["Whisk eggs."," ","Cook."],
		 "nutrition":{"Protein":"14 g","sugars":"~2","calories":210,"vitamin c":5,"sodium":-1},
		 "servings":"1"}
	]}`

	var env envelope
	require.NoError(t, json.Unmarshal([]byte(raw), &env))
	candidates, err := env.normalise()

	require.NoError(t, err)
	require.Len(t, candidates, 1)
	c := candidates[0]
	assert.Equal(t, "Veggie Omelette", c.Name)
	assert.Equal(t, []recommendation.Ingredient{{Name: "2 eggs"}, {Name: "spinach", Quantity: "30 g"}}, c.Ingredients)
	assert.Equal(t, "Whisk eggs.\nCook.", c.Instructions)
	assert.Equal(t, map[string]float64{
		recommendation.NutrientProtein:  14,
		recommendation.NutrientSugar:    2,
		recommendation.NutrientCalories: 210,
	}, c.NutritionFacts)
	require.NotNil(t, c.Prep)
	assert.Equal(t, 1, c.Prep.Servings)
}

func TestParseNutrition_AliasesKeepLargestValue(t *testing.T) {
	raw := map[string]json.RawMessage{
		"sugar":       json.RawMessage(`30`),
		"added_sugar": json.RawMessage(`2`),
		"total_fat":   json.RawMessage(`"4 g"`),
		"fat":         json.RawMessage(`"11 g"`),
	}

	// map order is random; every run must settle on the same values
	for i := 0; i < 50; i++ {
		got := parseNutrition(raw)
		require.Equal(t, 30.0, got[recommendation.NutrientSugar])
		require.Equal(t, 11.0, got[recommendation.NutrientFat])
	}
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		raw    string
		want   float64
		wantOK bool
	}{
		{`12`, 12, true},
		{`"12.5 g"`, 12.5, true},
		{`"~300 kcal"`, 300, true},
		{`"1,200 mg"`, 1200, true},
		{`"2,345.5"`, 2345.5, true},
		{`"10-15 g"`, 15, true},
		{`"10 to 12"`, 12, true},
		{`"300, approx"`, 300, true},
		{`"1,5 g"`, 0, false},
		{`"12,34 mg"`, 0, false},
		{`"about a cup"`, 0, false},
		{`null`, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := parseNumber(json.RawMessage(tt.raw))
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestParseNutrition_GroupedSodium(t *testing.T) {
	got := parseNutrition(map[string]json.RawMessage{"sodium": json.RawMessage(`"1,200 mg"`)})

	assert.Equal(t, map[string]float64{recommendation.NutrientSodium: 1200}, got)
}

func TestEnvelope_RejectsIncompleteCandidates(t *testing.T) {
	tests := map[string]string{
		"empty list":     `{"candidates":[]}`,
		"no name":        `{"candidates":[{"ingredients":["rice"]}]}`,
		"no ingredients": `{"candidates":[{"name":"Air"}]}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			var env envelope
			require.NoError(t, json.Unmarshal([]byte(raw), &env))
			assert.Error(t, validateEnvelope(env))
		})
	}
}

func TestAssembleContext_Caps(t *testing.T) {
	long := strings.Repeat("word ", 100)
	results := []collectionResult{
		{collection: outbound.CollectionRecipes, passages: []outbound.Passage{
			{ID: "r1", Title: "Oat bowl", Text: long},
			{ID: "r2", Title: "Lentil soup", Text: long},
		}},
		{collection: outbound.CollectionNutritionFacts, passages: []outbound.Passage{{ID: "n1", Text: "oats: 10g fiber"}}},
	}

	block, used := assembleContext(results, 1070)

	assert.LessOrEqual(t, len(block), 1070)
	assert.Equal(t, 2, used)
	assert.Contains(t, block, "## Recipes")
	assert.Contains(t, block, "[1] (id=r1) Oat bowl")
	assert.NotContains(t, block, "n1")
}

func TestAssembleContext_FirstPassageAlwaysIncluded(t *testing.T) {
	results := []collectionResult{{collection: outbound.CollectionRecipes, passages: []outbound.Passage{{ID: "r1", Text: strings.Repeat("é", 500)}}}}

	block, used := assembleContext(results, 100)

	assert.Equal(t, 1, used)
	assert.LessOrEqual(t, len(block), 100)
	assert.True(t, strings.HasPrefix(block, "## Recipes"))
}

type recordingObserver struct {
	mu     sync.Mutex
	routes []string
}

func (o *recordingObserver) Routed(_ context.Context, route string, _, _ int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.routes = append(o.routes, route)
}

const threeCandidates = `{"candidates":[
	{"name":"A","ingredients":["oats"]},
	{"name":"B","ingredients":["rice"]},
	{"name":"C","ingredients":["beans"]},
	{"name":"D","ingredients":["corn"]}
]}`

func newStore(t *testing.T) *testutils.MockRecipeStore {
	t.Helper()
	store := new(testutils.MockRecipeStore)
	store.On("Search", mock.Anything, mock.Anything, 6, outbound.CollectionRecipes).
		Return([]outbound.Passage{{ID: "r1", Title: "Oat bowl", Text: "oats, berries"}}, nil)
	store.On("Search", mock.Anything, mock.Anything, 6, outbound.CollectionNutritionFacts).
		Return([]outbound.Passage{{ID: "n1", Text: "oats: 10 g fiber per 100 g"}}, nil)
	return store
}

func TestRetriever_TruncatesToN(t *testing.T) {
	// Arrange
	store := newStore(t)
	model := testutils.NewScriptedModel().On(Task, threeCandidates)
	obs := &recordingObserver{}
	r := NewRetriever(store, model, Config{}, obs, zaptest.NewLogger(t))

	// Act
	got, err := r.Retrieve(context.Background(), NewAugmentedQuery("breakfast ideas", recommendation.UserIntent{}, recommendation.PermissiveConstraints()))

	// Assert
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "A", got[0].Name)
	assert.Equal(t, "C", got[2].Name)
	store.AssertNumberOfCalls(t, "Search", 1)
	assert.Equal(t, []string{"recipes_only"}, obs.routes)
	assert.Contains(t, model.CallsFor(Task)[0].Prompt, "(id=r1)")
}

func TestRetriever_BothCollectionsForBroadQuery(t *testing.T) {
	store := newStore(t)
	model := testutils.NewScriptedModel().On(Task, `{"candidates":[{"name":"A","ingredients":["oats"]}]}`)
	r := NewRetriever(store, model, Config{}, nil, zaptest.NewLogger(t))

	got, err := r.Retrieve(context.Background(), NewAugmentedQuery("oats", recommendation.UserIntent{}, recommendation.PermissiveConstraints()))

	require.NoError(t, err)
	assert.Len(t, got, 1)
	store.AssertNumberOfCalls(t, "Search", 2)
	prompt := model.CallsFor(Task)[0].Prompt
	assert.Less(t, strings.Index(prompt, "## Recipes"), strings.Index(prompt, "## Nutrition facts"))
}

func TestRetriever_RepairThenFail(t *testing.T) {
	store := newStore(t)
	model := testutils.NewScriptedModel().On(Task, "Here are some ideas: oats!").On(Task, `{"candidates":[{"name":"Oats"}]}`)
	r := NewRetriever(store, model, Config{}, nil, zaptest.NewLogger(t))

	_, err := r.Retrieve(context.Background(), NewAugmentedQuery("breakfast", recommendation.UserIntent{}, recommendation.PermissiveConstraints()))

	assert.True(t, apperrors.Is(err, apperrors.CodeRAG))
	assert.Len(t, model.CallsFor(Task), 2)
}

func TestRetriever_StoreFailureIsRAGError(t *testing.T) {
	store := new(testutils.MockRecipeStore)
	store.On("Search", mock.Anything, mock.Anything, mock.Anything, outbound.CollectionRecipes).
		Return([]outbound.Passage{{ID: "r1", Text: "x"}}, nil)
	store.On("Search", mock.Anything, mock.Anything, mock.Anything, outbound.CollectionNutritionFacts).
		Return(nil, context.DeadlineExceeded)
	model := testutils.NewScriptedModel()
	r := NewRetriever(store, model, Config{}, nil, zaptest.NewLogger(t))

	_, err := r.Retrieve(context.Background(), NewAugmentedQuery("oats", recommendation.UserIntent{}, recommendation.PermissiveConstraints()))

	assert.True(t, apperrors.Is(err, apperrors.CodeRAG))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, model.Calls())
}

func TestRetriever_SlowStoreHonoursDeadline(t *testing.T) {
	store := new(testutils.MockRecipeStore)
	store.On("Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)
	r := NewRetriever(store, testutils.NewScriptedModel(), Config{}, nil, zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.Retrieve(ctx, NewAugmentedQuery("recipe", recommendation.UserIntent{}, recommendation.PermissiveConstraints()))

	assert.True(t, apperrors.Is(err, apperrors.CodeRAG))
}

func TestRetriever_NoPassagesFailsClosed(t *testing.T) {
	store := new(testutils.MockRecipeStore)
	store.On("Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return([]outbound.Passage{}, nil)
	model := testutils.NewScriptedModel()
	r := NewRetriever(store, model, Config{}, nil, zaptest.NewLogger(t))

	_, err := r.Retrieve(context.Background(), NewAugmentedQuery("dinner", recommendation.UserIntent{}, recommendation.PermissiveConstraints()))

	assert.True(t, apperrors.Is(err, apperrors.CodeRAG))
	assert.Empty(t, model.Calls())
}
