package feature

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeStripsReleaseNoise(t *testing.T) {
	got := Normalize("Alien.1979.1080p.BluRay.x264-GROUP")
	assert.Equal(t, "Alien 1979 GROUP", got)
}

func TestNormalizeCollapsesSeparators(t *testing.T) {
	assert.Equal(t, "some movie 2020", Normalize("[some]_{movie}(2020)"))
	assert.Equal(t, "", Normalize(""))
}

func TestNormalizeTitleKey(t *testing.T) {
	a := NormalizeTitleKey("Alien.1979.1080p.BluRay")
	b := NormalizeTitleKey("alien 1979")
	assert.Equal(t, a, b)
}

func TestDetectFileType(t *testing.T) {
	assert.Equal(t, FileTypeVideo, DetectFileType("movie.final.mkv"))
	assert.Equal(t, FileTypeAudio, DetectFileType("album/track01.flac"))
	assert.Equal(t, FileTypeSubtitle, DetectFileType("movie.zh.srt"))
	assert.Equal(t, FileTypeArchive, DetectFileType("bundle.tar"))
	assert.Equal(t, FileTypeImage, DetectFileType("cover.JPG"))
	assert.Equal(t, FileTypeOther, DetectFileType("README"))
	assert.Equal(t, FileTypeOther, DetectFileType("trailing."))
}

func TestExtractFileTypePhrase(t *testing.T) {
	rest, fileType := ExtractFileTypePhrase("恐怖 电影 中字")
	assert.Equal(t, FileTypeVideo, fileType)
	assert.NotContains(t, rest, "电影")

	// Longest phrase wins.
	_, fileType = ExtractFileTypePhrase("图片类资源")
	assert.Equal(t, FileTypeImage, fileType)

	rest, fileType = ExtractFileTypePhrase("alien")
	assert.Equal(t, "alien", rest)
	assert.Equal(t, "", fileType)
}

func TestStripStructuralTokens(t *testing.T) {
	assert.Equal(t, "恐怖", StripStructuralTokens("恐怖 电影 视频 中字"))
	assert.Equal(t, "alien submarine", StripStructuralTokens("alien submarine subs"))
	assert.Equal(t, "alien", StripStructuralTokens("alien"))
}

func TestDetectLanguagesAudio(t *testing.T) {
	audio, subtitle := DetectLanguages("Alien 国语 English")
	assert.ElementsMatch(t, []string{"zh", "en"}, audio)
	assert.ElementsMatch(t, []string{"zh", "en"}, subtitle)
}

func TestDetectLanguagesSubtitleMarker(t *testing.T) {
	audio, subtitle := DetectLanguages("Alien 中字")
	assert.Empty(t, audio)
	assert.Equal(t, []string{"zh"}, subtitle)

	audio, subtitle = DetectLanguages("movie english subs")
	assert.Empty(t, audio)
	assert.Equal(t, []string{"en"}, subtitle)
}

func TestDetectLanguagesEmpty(t *testing.T) {
	audio, subtitle := DetectLanguages("")
	assert.Empty(t, audio)
	assert.Empty(t, subtitle)
}

func TestExtractGenres(t *testing.T) {
	got := ExtractGenres("恐怖 悬疑")
	assert.Equal(t, []string{"恐怖", "Horror", "悬疑", "Mystery"}, got)

	assert.Empty(t, ExtractGenres("alien"))
}

func TestExpandSynonyms(t *testing.T) {
	got := Expand("恐怖 电影", nil)
	assert.Contains(t, got, "horror")
	assert.Contains(t, got, "movie")
	assert.Contains(t, got, "film")
}

func TestExpandWeightedTermsClamped(t *testing.T) {
	got := Expand("alien", []WeightedTerm{{Term: "xenomorph", Weight: 10}})
	// Duplicate tokens collapse during dedup; weight only matters pre-dedup.
	assert.Equal(t, "alien xenomorph", got)

	assert.Equal(t, "", Expand("", nil))
}

func TestKeywordScore(t *testing.T) {
	assert.InDelta(t, 1.0, KeywordScore("alien", "Alien"), 1e-9)
	assert.InDelta(t, 0.2, KeywordScore("alien", "The Alien"), 1e-9)
	assert.InDelta(t, 0.1, KeywordScore("alien", "xenomorph"), 1e-9)
	assert.InDelta(t, 0.9/3, KeywordScore("恐怖", "黑暗恐怖之夜"), 1e-9)
}

func TestKeywordScoreMonotonic(t *testing.T) {
	early := KeywordScore("alien", "x Alien movie")
	late := KeywordScore("alien", "the best Alien movie")
	assert.Greater(t, early, late)
}
