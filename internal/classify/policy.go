package classify

// Policy holds the heuristic vocabulary the classifier matches against.
// All substrings are matched against the lower-cased line.
type Policy struct {
	RiskMarkers           []string `mapstructure:"risk_markers" yaml:"risk_markers"`
	RecommendationMarkers []string `mapstructure:"recommendation_markers" yaml:"recommendation_markers"`
	SkipPhrases           []string `mapstructure:"skip_phrases" yaml:"skip_phrases"`
	Bullets               []string `mapstructure:"bullets" yaml:"bullets"`
	NumberedBullets       bool     `mapstructure:"numbered_bullets" yaml:"numbered_bullets"`

	// BulletMinLength is the length a bullet line must exceed, prefix included.
	BulletMinLength int `mapstructure:"bullet_min_length" yaml:"bullet_min_length"`
	// ItemMinLength is the length a final item must exceed.
	ItemMinLength int `mapstructure:"item_min_length" yaml:"item_min_length"`

	Fallback FallbackPolicy `mapstructure:"fallback" yaml:"fallback"`
}

// FallbackPolicy configures the keyword pass used when the marker pass
// leaves a list empty.
type FallbackPolicy struct {
	RiskKeywords           []string `mapstructure:"risk_keywords" yaml:"risk_keywords"`
	RecommendationKeywords []string `mapstructure:"recommendation_keywords" yaml:"recommendation_keywords"`
	// A fallback candidate is rejected when it starts with one of its
	// list's exclusion prefixes.
	RiskExcludePrefixes           []string `mapstructure:"risk_exclude_prefixes" yaml:"risk_exclude_prefixes"`
	RecommendationExcludePrefixes []string `mapstructure:"recommendation_exclude_prefixes" yaml:"recommendation_exclude_prefixes"`
	Window                        int      `mapstructure:"window" yaml:"window"`
	MinLength                     int      `mapstructure:"min_length" yaml:"min_length"`
}

// DefaultPolicy returns the vocabulary tuned for Russian-language legal
// review answers.
func DefaultPolicy() Policy {
	return Policy{
		RiskMarkers:           []string{"риск", "проблем", "опасност", "недостаток", "слаб"},
		RecommendationMarkers: []string{"рекомендац", "совет", "улучшен", "исправлен"},
		SkipPhrases:           []string{"общая оценка", "документ выглядит", "безопасн", "итог", "заключен"},
		Bullets:               []string{"-", "•", "—", "–", "*"},
		NumberedBullets:       true,
		BulletMinLength:       5,
		ItemMinLength:         10,
		Fallback: FallbackPolicy{
			RiskKeywords:                  []string{"риск", "опасность", "проблема", "недостаток", "слабое место", "угроза"},
			RecommendationKeywords:        []string{"рекомендац", "совет", "следует", "рекомендуется", "улучшить", "добавить"},
			RiskExcludePrefixes:           []string{"рекомендац"},
			RecommendationExcludePrefixes: []string{"риск"},
			Window:                        3,
			MinLength:                     20,
		},
	}
}
