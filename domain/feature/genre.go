package feature

import "strings"

// genreTags maps Chinese genre words to their canonical tag pair. Each hit
// contributes both the Chinese and the English tag.
var genreTags = []struct {
	key  string
	tags []string
}{
	{"惊悚", []string{"惊悚", "Thriller"}},
	{"恐怖", []string{"恐怖", "Horror"}},
	{"悬疑", []string{"悬疑", "Mystery"}},
	{"动作", []string{"动作", "Action"}},
	{"科幻", []string{"科幻", "Science Fiction"}},
	{"犯罪", []string{"犯罪", "Crime"}},
	{"爱情", []string{"爱情", "Romance"}},
	{"喜剧", []string{"喜剧", "Comedy"}},
	{"剧情", []string{"剧情", "Drama"}},
	{"冒险", []string{"冒险", "Adventure"}},
	{"动画", []string{"动画", "Animation"}},
	{"奇幻", []string{"奇幻", "Fantasy"}},
	{"战争", []string{"战争", "War"}},
	{"纪录", []string{"纪录", "Documentary"}},
	{"家庭", []string{"家庭", "Family"}},
	{"音乐", []string{"音乐", "Music"}},
	{"历史", []string{"历史", "History"}},
	{"西部", []string{"西部", "Western"}},
}

// ExtractGenres returns the canonical genre tags mentioned in text,
// deduplicated in first-seen order.
func ExtractGenres(text string) []string {
	var hits []string
	for _, genre := range genreTags {
		if strings.Contains(text, genre.key) {
			hits = append(hits, genre.tags...)
		}
	}
	seen := make(map[string]bool, len(hits))
	uniq := hits[:0]
	for _, tag := range hits {
		if seen[tag] {
			continue
		}
		seen[tag] = true
		uniq = append(uniq, tag)
	}
	return uniq
}
