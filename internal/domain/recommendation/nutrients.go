package recommendation

import "strings"

// Canonical nutrient keys. Every key carries its unit except calories.
const (
	NutrientCalories     = "calories"
	NutrientProtein      = "protein_g"
	NutrientCarbs        = "carbs_g"
	NutrientFat          = "fat_g"
	NutrientSaturatedFat = "saturated_fat_g"
	NutrientFiber        = "fiber_g"
	NutrientSugar        = "sugar_g"
	NutrientSodium       = "sodium_mg"
	NutrientCholesterol  = "cholesterol_mg"
	NutrientPotassium    = "potassium_mg"
)

var nutrientAliases = map[string]string{
	"calories":            NutrientCalories,
	"calorie":             NutrientCalories,
	"kcal":                NutrientCalories,
	"energy":              NutrientCalories,
	"energy_kcal":         NutrientCalories,
	"protein":             NutrientProtein,
	"protein_g":           NutrientProtein,
	"proteins":            NutrientProtein,
	"carbs":               NutrientCarbs,
	"carbs_g":             NutrientCarbs,
	"carb":                NutrientCarbs,
	"carbohydrates":       NutrientCarbs,
	"carbohydrate":        NutrientCarbs,
	"carbohydrates_g":     NutrientCarbs,
	"total_carbohydrates": NutrientCarbs,
	"fat":                 NutrientFat,
	"fat_g":               NutrientFat,
	"fats":                NutrientFat,
	"total_fat":           NutrientFat,
	"saturated_fat":       NutrientSaturatedFat,
	"saturated_fat_g":     NutrientSaturatedFat,
	"sat_fat":             NutrientSaturatedFat,
	"fiber":               NutrientFiber,
	"fiber_g":             NutrientFiber,
	"fibre":               NutrientFiber,
	"dietary_fiber":       NutrientFiber,
	"sugar":               NutrientSugar,
	"sugar_g":             NutrientSugar,
	"sugars":              NutrientSugar,
	"total_sugar":         NutrientSugar,
	"added_sugar":         NutrientSugar,
	"sodium":              NutrientSodium,
	"sodium_mg":           NutrientSodium,
	"cholesterol":         NutrientCholesterol,
	"cholesterol_mg":      NutrientCholesterol,
	"potassium":           NutrientPotassium,
	"potassium_mg":        NutrientPotassium,
}

// CanonicalNutrientKey maps a free-form nutrient name onto its canonical key
func CanonicalNutrientKey(raw string) (string, bool) {
	k := strings.ToLower(strings.TrimSpace(raw))
	k = strings.NewReplacer(" ", "_", "-", "_", "(", "", ")", "").Replace(k)
	if c, ok := nutrientAliases[k]; ok {
		return c, true
	}
	return "", false
}

// NutrientKeys returns the canonical keys in a stable order
func NutrientKeys() []string {
	return []string{
		NutrientCalories, NutrientProtein, NutrientCarbs, NutrientFat, NutrientSaturatedFat,
		NutrientFiber, NutrientSugar, NutrientSodium, NutrientCholesterol, NutrientPotassium,
	}
}
