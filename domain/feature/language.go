package feature

import "strings"

// languageMarkers maps language codes to the multilingual tokens that signal
// them in titles and queries.
var languageMarkers = []struct {
	code string
	keys []string
}{
	{"zh", []string{"中文", "中字", "国语", "简体", "繁体", "chinese", "chs", "cht", "chi", "mandarin"}},
	{"en", []string{"英文", "英语", "english", "eng"}},
	{"jp", []string{"日语", "日文", "japanese", "jpn"}},
	{"kr", []string{"韩语", "韩文", "korean", "kor"}},
	{"fr", []string{"法语", "french", "fre"}},
	{"de", []string{"德语", "german", "ger"}},
	{"es", []string{"西语", "西班牙", "spanish", "spa"}},
	{"ru", []string{"俄语", "russian", "rus"}},
}

// subtitleMarkers indicate the language tokens refer to subtitles rather than
// the audio track.
var subtitleMarkers = []string{"字幕", "中字", "双语", "sub", "subs", "subtitle"}

// DetectLanguages scans text for language tokens. When a subtitle marker is
// present the detected codes land only in subtitle languages; otherwise they
// land in both audio and subtitle languages.
func DetectLanguages(text string) (audio []string, subtitle []string) {
	if text == "" {
		return nil, nil
	}
	lower := strings.ToLower(text)

	isSubtitle := false
	for _, marker := range subtitleMarkers {
		if strings.Contains(lower, marker) {
			isSubtitle = true
			break
		}
	}

	for _, lang := range languageMarkers {
		matched := false
		for _, key := range lang.keys {
			if strings.Contains(lower, strings.ToLower(key)) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		if isSubtitle {
			subtitle = appendUnique(subtitle, lang.code)
		} else {
			audio = appendUnique(audio, lang.code)
			subtitle = appendUnique(subtitle, lang.code)
		}
	}
	return audio, subtitle
}

func appendUnique(list []string, item string) []string {
	for _, existing := range list {
		if existing == item {
			return list
		}
	}
	return append(list, item)
}
