package langdetect

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/pemistahl/lingua-go"

	"github.com/JakeFAU/adaptive-frontier/internal/crawler"
)

// DefaultMinConfidence is the confidence the best language needs before a
// detection is reported as reliable.
const DefaultMinConfidence = 0.5

// Options configures the lingua-backed detector.
type Options struct {
	// Languages restricts detection to these ISO 639-1 codes. Empty (or a
	// single code) means every supported language.
	Languages []string
	// MinConfidence marks detections below this confidence as unreliable.
	MinConfidence float64
	// Preload loads every language model up front instead of lazily.
	Preload bool
}

// Lingua implements crawler.LanguageDetector with lingua-go.
type Lingua struct {
	detector      lingua.LanguageDetector
	minConfidence float64
}

// NewLingua builds a detector for the configured languages.
func NewLingua(opts Options) (*Lingua, error) {
	languages, err := resolveLanguages(opts.Languages)
	if err != nil {
		return nil, err
	}
	builder := lingua.NewLanguageDetectorBuilder()
	var configured lingua.LanguageDetectorBuilder
	if len(languages) < 2 {
		configured = builder.FromAllLanguages()
	} else {
		configured = builder.FromLanguages(languages...)
	}
	if opts.Preload {
		configured = configured.WithPreloadedLanguageModels()
	}
	minConfidence := opts.MinConfidence
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}
	return &Lingua{detector: configured.Build(), minConfidence: minConfidence}, nil
}

// Detect implements crawler.LanguageDetector.
func (l *Lingua) Detect(text string) crawler.Detection {
	text = strings.TrimSpace(text)
	if text == "" {
		return crawler.Detection{}
	}

	best, ok := l.detector.DetectLanguageOf(text)
	if !ok {
		return crawler.Detection{}
	}

	scores := make(map[lingua.Language]float64)
	for _, cv := range l.detector.ComputeLanguageConfidenceValues(text) {
		scores[cv.Language()] = cv.Value()
	}

	coverage := make(map[lingua.Language]int)
	for _, section := range l.detector.DetectMultipleLanguagesOf(text) {
		start, end := section.StartIndex(), section.EndIndex()
		if start < 0 || end > len(text) || start >= end {
			continue
		}
		coverage[section.Language()] += utf8.RuneCountInString(text[start:end])
	}
	total := utf8.RuneCountInString(text)
	if len(coverage) == 0 {
		coverage[best] = total
	}

	detection := crawler.Detection{Reliable: scores[best] >= l.minConfidence}
	for lang, runes := range coverage {
		detection.Languages = append(detection.Languages, crawler.DetectedLanguage{
			Code:     isoCode(lang),
			Score:    scores[lang],
			Coverage: float64(runes) / float64(total),
		})
	}
	sort.SliceStable(detection.Languages, func(i, j int) bool {
		a, b := detection.Languages[i], detection.Languages[j]
		if a.Coverage != b.Coverage {
			return a.Coverage > b.Coverage
		}
		return a.Code < b.Code
	})
	return detection
}

func resolveLanguages(codes []string) ([]lingua.Language, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	byCode := make(map[string]lingua.Language)
	for _, lang := range lingua.AllLanguages() {
		byCode[isoCode(lang)] = lang
	}
	out := make([]lingua.Language, 0, len(codes))
	for _, code := range codes {
		lang, ok := byCode[strings.ToLower(strings.TrimSpace(code))]
		if !ok {
			return nil, fmt.Errorf("unsupported language code %q", code)
		}
		out = append(out, lang)
	}
	return out, nil
}

func isoCode(lang lingua.Language) string {
	return strings.ToLower(lang.IsoCode639_1().String())
}
