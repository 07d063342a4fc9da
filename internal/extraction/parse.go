package extraction

import (
	"encoding/json"
	"regexp"
)

// fencePattern matches the ```json fence the prompt asks the model to answer in.
// (?s) lets the JSON body span lines.
var fencePattern = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")

// ParseSuggestion extracts the fenced JSON payload from a model answer
func ParseSuggestion(text string) (*SuggestedExpenseInformation, error) {
	match := fencePattern.FindStringSubmatch(text)
	if match == nil {
		return nil, &NotFoundError{Response: text}
	}

	var suggestion SuggestedExpenseInformation
	if err := json.Unmarshal([]byte(match[1]), &suggestion); err != nil {
		return nil, &NotFoundError{Response: text, Reason: err.Error()}
	}
	return &suggestion, nil
}
