package domain

// Analysis is the Document Analyzer's report on a project document.
type Analysis struct {
	CompletedSections  []string `json:"completedSections"`
	MissingInfo        []string `json:"missingInfo"`
	ConsistencyIssues  []string `json:"consistencyIssues"`
	SuggestedActions   []string `json:"suggestedActions"`
	ConsistencyChecked bool     `json:"consistencyChecked"`
	CompletenessScore  int      `json:"completenessScore"`
}

// Missing reports whether key is listed in MissingInfo.
func (a *Analysis) Missing(key string) bool {
	if a == nil {
		return false
	}
	for _, m := range a.MissingInfo {
		if m == key {
			return true
		}
	}
	return false
}
