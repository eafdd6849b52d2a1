package safety

import (
	"sort"
	"strings"
)

// category is a forbidden food group. Qualifiers are phrases that make an
// otherwise matching ingredient acceptable, e.g. "almond milk" is not dairy.
type category struct {
	members    []string
	qualifiers []string
}

var categories = map[string]category{
	"meat": {
		members: []string{
			"meat", "beef", "pork", "bacon", "ham", "chicken", "turkey", "lamb", "mutton", "veal",
			"sausage", "pepperoni", "salami", "prosciutto", "pancetta", "chorizo", "duck", "goose",
			"venison", "goat", "steak", "ground beef", "mince", "hot dog", "jerky", "gelatin",
			"lard", "meatball", "brisket", "rib", "bone broth", "chicken broth", "beef broth",
			"chicken stock", "beef stock", "burger", "hamburger",
		},
		qualifiers: []string{
			"vegan", "vegetarian", "veggie", "plant based", "meatless", "meat free", "mock", "faux",
		},
	},
	"pork": {
		members: []string{
			"pork", "bacon", "ham", "lard", "prosciutto", "pancetta", "chorizo", "pepperoni",
			"salami", "gelatin", "pork rind", "guanciale",
		},
		qualifiers: []string{"vegan", "vegetarian", "veggie", "turkey bacon", "beef bacon", "plant based", "agar", "halal", "kosher"},
	},
	"fish": {
		members: []string{
			"fish", "salmon", "tuna", "cod", "anchovy", "sardine", "trout", "halibut", "tilapia",
			"mackerel", "haddock", "bass", "swordfish", "herring", "fish sauce", "bonito", "caviar",
			"roe", "worcestershire",
		},
		qualifiers: []string{"vegan", "vegetarian", "plant based", "vegan worcestershire"},
	},
	"shellfish": {
		members: []string{
			"shellfish", "shrimp", "prawn", "crab", "lobster", "clam", "mussel", "oyster",
			"scallop", "squid", "octopus", "crawfish", "crayfish", "calamari", "langoustine",
			"oyster sauce",
		},
		qualifiers: []string{"vegan", "vegetarian", "imitation", "oyster mushroom", "mushroom oyster sauce"},
	},
	"dairy": {
		members: []string{
			"dairy", "milk", "cheese", "butter", "cream", "yogurt", "yoghurt", "ghee", "whey",
			"casein", "parmesan", "mozzarella", "cheddar", "ricotta", "feta", "buttermilk",
			"sour cream", "ice cream", "custard", "mascarpone", "paneer", "brie", "gouda",
			"lactose", "kefir", "half and half", "creme fraiche",
		},
		qualifiers: []string{
			"almond", "soy", "oat", "coconut", "rice", "cashew", "hemp", "vegan", "plant based",
			"dairy free", "non dairy", "nondairy", "peanut", "cocoa", "shea", "nut", "sunflower",
			"apple", "seed", "cream of tartar", "lactose free",
		},
	},
	"egg": {
		members:    []string{"egg", "egg white", "egg yolk", "mayonnaise", "mayo", "meringue", "aioli"},
		qualifiers: []string{"vegan", "egg free", "flax", "chia", "eggless", "plant based"},
	},
	"gluten": {
		members: []string{
			"gluten", "wheat", "flour", "bread", "pasta", "barley", "rye", "couscous", "semolina",
			"spelt", "seitan", "breadcrumb", "panko", "noodle", "bulgur", "farro", "malt", "cracker",
			"tortilla", "soy sauce", "pita", "bagel", "croissant", "cornbread",
		},
		qualifiers: []string{
			"gluten free", "rice", "almond", "coconut", "corn", "chickpea", "buckwheat", "cassava",
			"tapioca", "potato", "quinoa", "tamari", "zucchini", "glass", "sorghum",
		},
	},
	"tree nut": {
		members: []string{
			"almond", "walnut", "pecan", "cashew", "pistachio", "hazelnut", "macadamia", "brazil nut",
			"pine nut", "praline", "marzipan", "nutella", "chestnut",
		},
	},
	"peanut": {
		members: []string{"peanut", "groundnut", "peanut butter", "peanut oil", "satay"},
	},
	"alcohol": {
		members: []string{
			"wine", "beer", "rum", "vodka", "brandy", "sherry", "mirin", "sake", "whiskey",
			"whisky", "bourbon", "liqueur", "gin", "tequila", "cognac", "vermouth", "marsala",
		},
		qualifiers: []string{"vinegar", "non alcoholic", "alcohol free"},
	},
	"honey": {
		members: []string{"honey", "honeycomb", "royal jelly", "beeswax"},
	},
	"soy": {
		members: []string{"soy", "soya", "tofu", "tempeh", "edamame", "miso", "soy sauce", "tamari"},
	},
	"sesame": {
		members: []string{"sesame", "tahini", "sesame oil"},
	},
}

// categoryAliases maps names a user or the model may use onto categories
var categoryAliases = map[string][]string{
	"meat":           {"meat"},
	"red meat":       {"meat"},
	"poultry":        {"meat"},
	"pork":           {"pork"},
	"fish":           {"fish"},
	"seafood":        {"fish", "shellfish"},
	"shellfish":      {"shellfish"},
	"crustacean":     {"shellfish"},
	"dairy":          {"dairy"},
	"milk":           {"dairy"},
	"lactose":        {"dairy"},
	"egg":            {"egg"},
	"gluten":         {"gluten"},
	"wheat":          {"gluten"},
	"nut":            {"tree nut", "peanut"},
	"tree nut":       {"tree nut"},
	"peanut":         {"peanut"},
	"alcohol":        {"alcohol"},
	"honey":          {"honey"},
	"soy":            {"soy"},
	"soya":           {"soy"},
	"sesame":         {"sesame"},
	"animal":         {"meat", "fish", "shellfish", "dairy", "egg", "honey"},
	"animal product": {"meat", "fish", "shellfish", "dairy", "egg", "honey"},
}

// restrictions maps dietary restrictions to the categories they forbid
var restrictions = map[string][]string{
	"vegetarian":         {"meat", "fish", "shellfish"},
	"lacto vegetarian":   {"meat", "fish", "shellfish", "egg"},
	"ovo vegetarian":     {"meat", "fish", "shellfish", "dairy"},
	"vegan":              {"meat", "fish", "shellfish", "dairy", "egg", "honey"},
	"plant based":        {"meat", "fish", "shellfish", "dairy", "egg", "honey"},
	"pescatarian":        {"meat"},
	"pescetarian":        {"meat"},
	"gluten free":        {"gluten"},
	"celiac":             {"gluten"},
	"coeliac":            {"gluten"},
	"dairy free":         {"dairy"},
	"lactose free":       {"dairy"},
	"lactose intolerant": {"dairy"},
	"nut free":           {"tree nut", "peanut"},
	"tree nut free":      {"tree nut"},
	"peanut free":        {"peanut"},
	"egg free":           {"egg"},
	"shellfish free":     {"shellfish"},
	"fish free":          {"fish"},
	"soy free":           {"soy"},
	"halal":              {"pork", "alcohol"},
	"kosher":             {"pork", "shellfish"},
	"no pork":            {"pork"},
	"alcohol free":       {"alcohol"},
}

// restrictionKey normalises "Gluten-Free" and "gluten free" to the same key
func restrictionKey(raw string) string {
	return strings.Join(tokenize(raw), " ")
}

// categoriesFor returns the categories a restriction forbids, or nil when the
// restriction is not a known category rule
func categoriesFor(restriction string) []string {
	return restrictions[restrictionKey(restriction)]
}

// expandTerm turns an avoid or allergy term into matchers. Category names
// expand to their members; other terms match literally, borrowing the
// qualifiers of any category that lists them.
func expandTerm(term string) []matcher {
	key := strings.Join(tokenize(term), " ")
	if key == "" {
		return nil
	}

	if names, ok := categoryAliases[key]; ok {
		var out []matcher
		for _, name := range names {
			out = append(out, categoryMatchers(name)...)
		}
		return out
	}

	return []matcher{newMatcher(tokenize(key), qualifiersOf(key), nil)}
}

func categoryMatchers(name string) []matcher {
	cat := categories[name]
	quals := make([][]string, 0, len(cat.qualifiers))
	for _, q := range cat.qualifiers {
		quals = append(quals, tokenize(q))
	}
	out := make([]matcher, 0, len(cat.members))
	for _, m := range cat.members {
		out = append(out, newMatcher(tokenize(m), quals, cat.members))
	}
	return out
}

func qualifiersOf(member string) [][]string {
	seen := map[string]bool{}
	var out [][]string
	names := make([]string, 0, len(categories))
	for name := range categories {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cat := categories[name]
		for _, m := range cat.members {
			if strings.Join(tokenize(m), " ") != member {
				continue
			}
			for _, q := range cat.qualifiers {
				if !seen[q] {
					seen[q] = true
					out = append(out, tokenize(q))
				}
			}
		}
	}
	return out
}
