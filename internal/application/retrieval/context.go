package retrieval

import (
	"fmt"
	"strings"

	"github.com/alchemorsel/mealguard/internal/ports/outbound"
)

// DefaultMaxContextChars caps the assembled context block
const DefaultMaxContextChars = 6000

var collectionHeaders = map[outbound.Collection]string{
	outbound.CollectionRecipes:        "Recipes",
	outbound.CollectionNutritionFacts: "Nutrition facts",
}

type collectionResult struct {
	collection outbound.Collection
	passages   []outbound.Passage
}

// assembleContext renders passages grouped by collection, numbering them in
// order and stopping once maxChars is reached. The first passage is always
// included, cut to fit if it must be.
func assembleContext(results []collectionResult, maxChars int) (string, int) {
	var b strings.Builder
	n := 0

	for _, res := range results {
		if len(res.passages) == 0 {
			continue
		}
		header := fmt.Sprintf("## %s\n", collectionHeaders[res.collection])
		if n > 0 && b.Len()+len(header) > maxChars {
			break
		}
		b.WriteString(header)

		for _, p := range res.passages {
			block := formatPassage(n+1, p)
			if b.Len()+len(block) > maxChars {
				if n > 0 {
					return b.String(), n
				}
				block = truncateBytes(block, maxChars-b.Len())
			}
			b.WriteString(block)
			n++
		}
	}
	return b.String(), n
}

func formatPassage(i int, p outbound.Passage) string {
	title := p.Title
	if title == "" {
		title = "untitled"
	}
	return fmt.Sprintf("[%d] (id=%s) %s\n%s\n\n", i, p.ID, title, strings.TrimSpace(p.Text))
}

// truncateBytes cuts s to at most n bytes without splitting a rune
func truncateBytes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
