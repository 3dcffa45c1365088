package model

// AnalysisResult is the outcome of one document analysis. It is built per
// request and never persisted.
type AnalysisResult struct {
	Risks           []string `json:"risks"`
	Recommendations []string `json:"recommendations"`
	Warnings        []string `json:"warnings"`
	Summary         string   `json:"summary"`
	AIUsed          bool     `json:"ai_used"`
}
