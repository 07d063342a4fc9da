package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrIncompleteTranscript is returned when Ollama stops before the model is done
var ErrIncompleteTranscript = errors.New("ollama returned an incomplete transcript")

// Ollama implements Recognizer with a local Ollama vision model.
// Models with good OCR: qwen2-vl, llava:1.6, minicpm-v.
type Ollama struct {
	endpoint string
	model    string
	client   *http.Client
}

// NewOllama creates a new Ollama Recognizer instance
func NewOllama(baseURL string, modelName string) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "llava"
	}

	return &Ollama{
		endpoint: strings.TrimSuffix(baseURL, "/") + "/api/chat",
		model:    modelName,
		// vision models are slow on CPU
		client: &http.Client{Timeout: 120 * time.Second},
	}, nil
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

const ollamaSystemPrompt = "You are an OCR engine. You output exactly the text you see, nothing else."

// RecognizeText transcribes the text printed on a receipt capture
func (o *Ollama) RecognizeText(ctx context.Context, imageData []byte, contentType string) (string, error) {
	pngData, err := normalizeCapture(imageData, contentType)
	if err != nil {
		return "", err
	}

	reply, err := o.chat(ctx, ollamaChatRequest{
		Model: o.model,
		Messages: []ollamaMessage{
			{Role: "system", Content: ollamaSystemPrompt},
			{
				Role:    "user",
				Content: recognitionPrompt,
				Images:  []string{base64.StdEncoding.EncodeToString(pngData)},
			},
		},
	})
	if err != nil {
		return "", err
	}
	if !reply.Done {
		return "", ErrIncompleteTranscript
	}
	return cleanTranscript(reply.Message.Content), nil
}

// chat sends one non-streaming chat request
func (o *Ollama) chat(ctx context.Context, chatReq ollamaChatRequest) (*ollamaChatResponse, error) {
	payload, err := json.Marshal(chatReq)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling ollama API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var reply ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &reply, nil
}

// Close is a no-op; the HTTP client holds nothing that needs releasing
func (o *Ollama) Close() error {
	return nil
}
