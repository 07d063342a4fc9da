package scanning

import (
	"context"
	"strings"
)

// Recognizer extracts the raw text printed on a captured receipt photo
type Recognizer interface {
	// RecognizeText returns the text found in the image, line breaks preserved
	RecognizeText(ctx context.Context, imageData []byte, contentType string) (string, error)
	// Close releases the recognizer's resources
	Close() error
}

// recognitionPrompt is shared by all vision backends. Only transcription is asked for;
// interpreting the text is the extraction step's job.
const recognitionPrompt = `Transcribe all text printed on this receipt photo.
Keep the original line order and put each printed line on its own line.
Do not summarise, translate, correct or interpret anything.
Do not add any commentary and do not wrap the answer in a code block.
If there is no readable text, answer with an empty response.`

// cleanTranscript strips code fences some models add despite the prompt
func cleanTranscript(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		if i := strings.Index(text, "\n"); i >= 0 {
			text = text[i+1:]
		} else {
			text = strings.TrimPrefix(text, "```")
		}
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	return strings.TrimSpace(text)
}
