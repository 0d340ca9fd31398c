package cost

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/adaptive-frontier/internal/crawler"
)

// Policy names accepted by New.
const (
	PolicyDomain     = "domain"
	PolicyLanguage   = "language"
	PolicyClassifier = "classifier"
)

// Settings selects and configures one policy variant.
type Settings struct {
	Policy     string
	Domain     DomainOnlyConfig
	Language   LanguageConfig
	Classifier ClassifierConfig
}

// Deps are the collaborators the richer variants need.
type Deps struct {
	Source   crawler.ContentSource
	Detector crawler.LanguageDetector
	Scorer   Scorer
}

// New builds the policy named by s.Policy.
func New(s Settings, deps Deps, logger *zap.Logger) (Policy, error) {
	switch s.Policy {
	case "", PolicyDomain:
		return NewDomainOnly(s.Domain, logger), nil
	case PolicyLanguage:
		if deps.Detector == nil {
			return nil, fmt.Errorf("language policy requires a language detector")
		}
		return NewLanguagePreference(s.Language, deps.Source, deps.Detector, logger), nil
	case PolicyClassifier:
		if deps.Scorer == nil {
			return nil, fmt.Errorf("classifier policy requires a scorer")
		}
		if err := s.Classifier.Validate(); err != nil {
			return nil, fmt.Errorf("build classifier policy: %w", err)
		}
		if s.Classifier.UseLanguages && deps.Detector == nil {
			return nil, fmt.Errorf("classifier policy with languages requires a language detector")
		}
		return NewExternalClassifier(s.Classifier, deps.Source, deps.Detector, deps.Scorer, logger), nil
	default:
		return nil, fmt.Errorf("unknown cost policy %q", s.Policy)
	}
}
