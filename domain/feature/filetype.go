package feature

import "strings"

// File type tags.
const (
	FileTypeVideo    = "video"
	FileTypeAudio    = "audio"
	FileTypeImage    = "image"
	FileTypeSubtitle = "subtitle"
	FileTypeArchive  = "archive"
	FileTypeOther    = "other"
)

var extensionTypes = map[string]string{
	"mp4": FileTypeVideo, "mkv": FileTypeVideo, "avi": FileTypeVideo,
	"mov": FileTypeVideo, "wmv": FileTypeVideo, "flv": FileTypeVideo,
	"ts": FileTypeVideo, "m2ts": FileTypeVideo, "rmvb": FileTypeVideo,
	"rm": FileTypeVideo, "webm": FileTypeVideo, "mpg": FileTypeVideo,
	"mpeg": FileTypeVideo, "vob": FileTypeVideo, "m4v": FileTypeVideo,

	"mp3": FileTypeAudio, "flac": FileTypeAudio, "aac": FileTypeAudio,
	"wav": FileTypeAudio, "ogg": FileTypeAudio, "m4a": FileTypeAudio,
	"ape": FileTypeAudio, "wma": FileTypeAudio, "opus": FileTypeAudio,

	"jpg": FileTypeImage, "jpeg": FileTypeImage, "png": FileTypeImage,
	"gif": FileTypeImage, "bmp": FileTypeImage, "webp": FileTypeImage,
	"tif": FileTypeImage, "tiff": FileTypeImage,

	"srt": FileTypeSubtitle, "ass": FileTypeSubtitle, "ssa": FileTypeSubtitle,
	"sub": FileTypeSubtitle, "vtt": FileTypeSubtitle, "idx": FileTypeSubtitle,
	"sup": FileTypeSubtitle,

	"zip": FileTypeArchive, "rar": FileTypeArchive, "7z": FileTypeArchive,
	"tar": FileTypeArchive, "gz": FileTypeArchive, "bz2": FileTypeArchive,
	"xz": FileTypeArchive, "iso": FileTypeArchive,
}

// DetectFileType classifies raw text by its last extension.
func DetectFileType(text string) string {
	dot := strings.LastIndexByte(text, '.')
	if dot < 0 || dot == len(text)-1 {
		return FileTypeOther
	}
	ext := strings.ToLower(strings.TrimSpace(text[dot+1:]))
	if t, ok := extensionTypes[ext]; ok {
		return t
	}
	return FileTypeOther
}

// fileTypePhrases maps query phrases to file type tags, used when extracting
// structural filters from free text.
var fileTypePhrases = map[string]string{
	"视频":  FileTypeVideo,
	"影片":  FileTypeVideo,
	"电影":  FileTypeVideo,
	"音频":  FileTypeAudio,
	"音乐":  FileTypeAudio,
	"字幕":  FileTypeSubtitle,
	"图片":  FileTypeImage,
	"图片类": FileTypeImage,
	"压缩":  FileTypeArchive,
}

// ExtractFileTypePhrase finds the longest file-type phrase contained in q and
// returns the remaining text with the phrase removed plus the matched tag.
// The second return is "" when nothing matched.
func ExtractFileTypePhrase(q string) (string, string) {
	best := ""
	for phrase := range fileTypePhrases {
		if strings.Contains(q, phrase) && len(phrase) > len(best) {
			best = phrase
		}
	}
	if best == "" {
		return q, ""
	}
	return strings.ReplaceAll(q, best, ""), fileTypePhrases[best]
}

// StripStructuralTokens removes every file-type phrase, language marker, and
// subtitle marker from q, leaving the content words for keyword matching.
// CJK tokens are stripped anywhere in the text; ASCII markers only as whole
// words, so "submarine" survives the "sub" marker.
func StripStructuralTokens(q string) string {
	for phrase := range fileTypePhrases {
		q = strings.ReplaceAll(q, phrase, " ")
	}
	ascii := make(map[string]bool)
	for _, lang := range languageMarkers {
		for _, key := range lang.keys {
			if isASCII(key) {
				ascii[key] = true
			} else {
				q = strings.ReplaceAll(q, key, " ")
			}
		}
	}
	for _, marker := range subtitleMarkers {
		if isASCII(marker) {
			ascii[marker] = true
		} else {
			q = strings.ReplaceAll(q, marker, " ")
		}
	}
	fields := strings.Fields(q)
	kept := fields[:0]
	for _, f := range fields {
		if ascii[strings.ToLower(f)] {
			continue
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " ")
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > 127 {
			return false
		}
	}
	return true
}
