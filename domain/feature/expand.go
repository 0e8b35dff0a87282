package feature

import "strings"

// synonyms are fixed expansion lists for domain words. The expanded query
// biases the embedding towards related vocabulary.
var synonyms = []struct {
	key   string
	terms []string
}{
	{"电影", []string{"影片", "movie", "film"}},
	{"影片", []string{"电影", "movie", "film"}},
	{"惊悚", []string{"thriller", "紧张"}},
	{"恐怖", []string{"horror", "恐怖片"}},
	{"悬疑", []string{"mystery", "疑案"}},
	{"爱情", []string{"romance"}},
	{"喜剧", []string{"comedy"}},
	{"科幻", []string{"sci-fi", "science fiction"}},
	{"动作", []string{"action"}},
	{"战争", []string{"war"}},
	{"动画", []string{"animation", "cartoon"}},
	{"纪录", []string{"documentary", "doc"}},
	{"犯罪", []string{"crime"}},
	{"奇幻", []string{"fantasy"}},
	{"冒险", []string{"adventure"}},
	{"剧情", []string{"drama"}},
	{"家庭", []string{"family"}},
	{"音乐", []string{"music"}},
	{"传记", []string{"biography", "biopic"}},
	{"历史", []string{"history"}},
	{"西部", []string{"western"}},
	{"体育", []string{"sport", "sports"}},
	{"真人秀", []string{"reality"}},
	{"综艺", []string{"variety"}},
	{"剧集", []string{"series", "tv", "show"}},
	{"电视剧", []string{"tv", "series", "drama"}},
}

// WeightedTerm is a catalog-derived expansion token. Weight biases the
// embedding by duplicating the term, clamped to [1,3].
type WeightedTerm struct {
	Term   string
	Weight int
}

// Expand appends fixed synonyms and weighted catalog terms to the query,
// deduplicating tokens while preserving order.
func Expand(query string, extra []WeightedTerm) string {
	if query == "" {
		return query
	}
	tokens := []string{query}
	for _, syn := range synonyms {
		if strings.Contains(query, syn.key) {
			tokens = append(tokens, syn.terms...)
		}
	}
	for _, term := range extra {
		count := term.Weight
		if count < 1 {
			count = 1
		}
		if count > 3 {
			count = 3
		}
		for i := 0; i < count; i++ {
			tokens = append(tokens, term.Term)
		}
	}
	seen := make(map[string]bool, len(tokens))
	deduped := tokens[:0]
	for _, token := range tokens {
		if seen[token] {
			continue
		}
		seen[token] = true
		deduped = append(deduped, token)
	}
	return strings.Join(deduped, " ")
}
