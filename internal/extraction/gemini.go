package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zombor/household-expenses/internal/expense"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// suggestionPrompt is sent ahead of the recognised receipt text.
// The answer must come back inside a ```json fence, which ParseSuggestion depends on.
const suggestionPrompt = `You are given the raw text recognised on a shopping receipt.
Infer the expense it describes and answer with a single JSON object wrapped in a markdown code fence, exactly like this:

` + "```json" + `
{"total": "12.50", "estimatedCategory": "GROCERIES", "date": "Feb 2 2025"}
` + "```" + `

Rules:
- "total" is the final amount paid as a plain decimal string without currency symbols
- "estimatedCategory" must be one of: %s
- "date" is the purchase date formatted like "Jan 2 2006" (abbreviated month, day without padding, four digit year)
- If the date cannot be found, use an empty string
- Do not add any text outside the code fence

Receipt text:
%s`

// Gemini calls the generateContent endpoint of the Gemini API over plain HTTP
type Gemini struct {
	baseURL string
	model   string
	apiKey  string
	client  *http.Client
}

// NewGemini creates a Gemini extractor. An empty baseURL uses the public endpoint.
func NewGemini(baseURL, apiKey, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}

	return &Gemini{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   modelName,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}, nil
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

func buildPrompt(receiptText string) string {
	names := make([]string, 0, len(expense.Categories))
	for _, c := range expense.Categories {
		names = append(names, string(c))
	}
	return fmt.Sprintf(suggestionPrompt, strings.Join(names, ", "), receiptText)
}

// Suggest sends the receipt text to the model and parses its fenced answer
func (g *Gemini) Suggest(ctx context.Context, receiptText string) (*SuggestedExpenseInformation, error) {
	reqBody := generateRequest{
		Contents: []content{
			{
				Role:  "user",
				Parts: []part{{Text: buildPrompt(receiptText)}},
			},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, g.model, url.QueryEscape(g.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling gemini API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrNullResponseBody
	}

	var genResp generateResponse
	if err := json.Unmarshal(body, &genResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	if len(genResp.Candidates) == 0 || len(genResp.Candidates[0].Content.Parts) == 0 {
		return nil, ErrNullResponseBody
	}

	return ParseSuggestion(genResp.Candidates[0].Content.Parts[0].Text)
}
