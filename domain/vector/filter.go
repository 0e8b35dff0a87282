package vector

// Filter restricts Query results by payload metadata. All set conditions are
// conjunctive; zero-value conditions are ignored.
type Filter struct {
	hasTMDB       bool
	genres        []string
	fileType      string
	audioLangs    []string
	subtitleLangs []string
	sizeMin       int64
}

// FilterOption is a functional option for Filter.
type FilterOption func(*Filter)

// WithHasTMDB restricts to payloads with TMDB enrichment.
func WithHasTMDB() FilterOption {
	return func(f *Filter) { f.hasTMDB = true }
}

// WithGenres restricts to payloads whose genre tags intersect any of genres.
func WithGenres(genres []string) FilterOption {
	return func(f *Filter) {
		if len(genres) > 0 {
			f.genres = append([]string(nil), genres...)
		}
	}
}

// WithFileType restricts to payloads with the given file type.
func WithFileType(fileType string) FilterOption {
	return func(f *Filter) { f.fileType = fileType }
}

// WithAudioLangs restricts to payloads whose audio languages intersect langs.
func WithAudioLangs(langs []string) FilterOption {
	return func(f *Filter) {
		if len(langs) > 0 {
			f.audioLangs = append([]string(nil), langs...)
		}
	}
}

// WithSubtitleLangs restricts to payloads whose subtitle languages intersect langs.
func WithSubtitleLangs(langs []string) FilterOption {
	return func(f *Filter) {
		if len(langs) > 0 {
			f.subtitleLangs = append([]string(nil), langs...)
		}
	}
}

// WithSizeMin restricts to payloads with size of at least bytes.
func WithSizeMin(bytes int64) FilterOption {
	return func(f *Filter) {
		if bytes > 0 {
			f.sizeMin = bytes
		}
	}
}

// NewFilter creates a Filter with options.
func NewFilter(opts ...FilterOption) Filter {
	f := Filter{}
	for _, opt := range opts {
		opt(&f)
	}
	return f
}

// HasTMDB reports whether the TMDB condition is set.
func (f Filter) HasTMDB() bool { return f.hasTMDB }

// Genres returns the genre condition.
func (f Filter) Genres() []string { return append([]string(nil), f.genres...) }

// FileType returns the file type condition.
func (f Filter) FileType() string { return f.fileType }

// AudioLangs returns the audio language condition.
func (f Filter) AudioLangs() []string { return append([]string(nil), f.audioLangs...) }

// SubtitleLangs returns the subtitle language condition.
func (f Filter) SubtitleLangs() []string { return append([]string(nil), f.subtitleLangs...) }

// SizeMin returns the minimum size condition in bytes.
func (f Filter) SizeMin() int64 { return f.sizeMin }

// IsEmpty reports whether no conditions are set.
func (f Filter) IsEmpty() bool {
	return !f.hasTMDB &&
		len(f.genres) == 0 &&
		f.fileType == "" &&
		len(f.audioLangs) == 0 &&
		len(f.subtitleLangs) == 0 &&
		f.sizeMin == 0
}

// Matches reports whether a payload satisfies every set condition.
func (f Filter) Matches(p Payload) bool {
	if f.hasTMDB && !p.HasTMDB {
		return false
	}
	if f.fileType != "" && p.FileType != f.fileType {
		return false
	}
	if len(f.genres) > 0 && !intersects(p.GenreTags, f.genres) {
		return false
	}
	if len(f.audioLangs) > 0 && !intersects(p.AudioLangs, f.audioLangs) {
		return false
	}
	if len(f.subtitleLangs) > 0 && !intersects(p.SubtitleLangs, f.subtitleLangs) {
		return false
	}
	if f.sizeMin > 0 && p.Size < f.sizeMin {
		return false
	}
	return true
}

func intersects(have, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}
	return false
}
