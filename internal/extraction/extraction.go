package extraction

import (
	"context"
	"errors"
	"fmt"

	"github.com/zombor/household-expenses/internal/expense"
)

// SuggestedExpenseInformation is the AI's draft of an expense before the user reviews it
type SuggestedExpenseInformation struct {
	Total             string           `json:"total"`
	EstimatedCategory expense.Category `json:"estimatedCategory"`
	Date              string           `json:"date"`
}

// Extractor infers a suggested expense from text recognised on a receipt
type Extractor interface {
	Suggest(ctx context.Context, receiptText string) (*SuggestedExpenseInformation, error)
}

// ErrNullResponseBody is returned when the API answers without any content to parse
var ErrNullResponseBody = errors.New("null response body")

// NotFoundError is returned when no usable suggestion can be extracted from the response
type NotFoundError struct {
	Response string
	Reason   string
}

func (e *NotFoundError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("suggestion not found in response: %s", e.Reason)
	}
	return "suggestion not found in response"
}

// APIError carries a non-200 answer from the generative API
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("generative API error (status %d): %s", e.StatusCode, e.Body)
}
