// Package feature derives the text and structured tags attached to each
// indexed vector: title normalization, file type, languages, genres, and
// keyword match scoring. All dictionaries are static.
package feature

import (
	"regexp"
	"strings"
)

// separatorRuns matches the bracket/punctuation runs that release names use
// as word separators.
var separatorRuns = regexp.MustCompile(`[\[\]{}()._\-]+`)

// noiseTokens are technical release tokens (resolution, codecs, containers,
// rip tags) stripped before embedding. Matched case-insensitively as whole
// words after separator replacement.
var noiseTokens = map[string]bool{
	"2160p": true, "1080p": true, "1080i": true, "720p": true, "480p": true,
	"4k": true, "8k": true, "uhd": true, "fhd": true, "hd": true, "sd": true,
	"hdr": true, "hdr10": true, "hdr10+": true, "dv": true, "sdr": true,
	"x264": true, "x265": true, "h264": true, "h265": true, "hevc": true,
	"avc": true, "av1": true, "xvid": true, "divx": true, "10bit": true, "8bit": true,
	"aac": true, "ac3": true, "eac3": true, "dts": true, "dtshd": true,
	"truehd": true, "atmos": true, "flac": true, "mp3": true, "ddp": true,
	"ddp5": true, "dd5": true, "2ch": true, "6ch": true, "8ch": true,
	"bluray": true, "bdrip": true, "brrip": true, "bdremux": true, "remux": true,
	"webrip": true, "webdl": true, "web": true, "hdtv": true, "dvdrip": true,
	"dvdscr": true, "hdrip": true, "camrip": true, "tc": true, "ts": true,
	"proper": true, "repack": true, "rerip": true, "internal": true,
	"limited": true, "extended": true, "unrated": true, "uncut": true,
	"multi": true, "dubbed": true, "subbed": true, "complete": true,
	"hevc10": true, "hq": true, "60fps": true, "120fps": true,
	"yify": true, "yts": true, "rarbg": true, "ettv": true, "eztv": true,
	"mkv": true, "mp4": true, "avi": true,
}

// Normalize produces the text fed to the embedder: separator runs become
// spaces, noise tokens are removed, whitespace is collapsed.
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	spaced := separatorRuns.ReplaceAllString(text, " ")
	fields := strings.Fields(spaced)
	kept := make([]string, 0, len(fields))
	for _, f := range fields {
		if noiseTokens[strings.ToLower(f)] {
			continue
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " ")
}

// NormalizeTitleKey lowercases a normalized title for result-level dedup.
func NormalizeTitleKey(title string) string {
	return strings.ToLower(Normalize(title))
}
