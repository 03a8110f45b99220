package ai

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"
)

//go:embed prompts/event_album.txt
var eventAlbumPrompt string

// maxJSONRetries bounds how often a provider asks the model to repair an
// unparseable or incomplete answer within one DescribeEvent call.
const maxJSONRetries = 3

// ErrIncompleteResponse is returned when the model answer lacks a title or description.
var ErrIncompleteResponse = errors.New("response is missing title or description")

// EventContext is the non-visual context sent along with the sample photos.
type EventContext struct {
	DateLabel string // e.g. "August 2025"
	Location  string // empty when unknown
}

// EventDescription is the model's proposal for an album.
type EventDescription struct {
	Title           string `json:"title"`
	Description     string `json:"description"`
	CoverPhotoIndex *int   `json:"cover_photo_index,omitempty"`
}

// VisionProvider describes an event from a sample of its photos.
type VisionProvider interface {
	Name() string
	// DescribeEvent sends JPEG images with the event context. The returned
	// description always has a non-empty title and description.
	DescribeEvent(ctx context.Context, images [][]byte, ec EventContext) (*EventDescription, error)
	GetUsage() Usage
	ResetUsage()
}

// Usage tracks token usage and calculates cost.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalCost    float64 // in USD
}

// RequestPricing holds input/output prices per 1M tokens
type RequestPricing struct {
	Input  float64
	Output float64
}

// usageTracker is embedded by every provider; DescribeEvent runs concurrently.
type usageTracker struct {
	mu      sync.Mutex
	usage   Usage
	pricing RequestPricing
}

func (u *usageTracker) trackUsage(inputTokens, outputTokens int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.usage.InputTokens += int(inputTokens)
	u.usage.OutputTokens += int(outputTokens)
	u.usage.TotalCost += float64(inputTokens) / 1_000_000 * u.pricing.Input
	u.usage.TotalCost += float64(outputTokens) / 1_000_000 * u.pricing.Output
}

func (u *usageTracker) GetUsage() Usage {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.usage
}

func (u *usageTracker) ResetUsage() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.usage = Usage{}
}

// buildEventContent builds the user message for an event description request.
// This is shared across all AI providers.
func buildEventContent(ec EventContext, imageCount int) string {
	var b strings.Builder
	date := ec.DateLabel
	if date == "" {
		date = "unknown"
	}
	fmt.Fprintf(&b, "CONTEXT: Event date: '%s'. ", date)
	if ec.Location != "" {
		fmt.Fprintf(&b, "The event took place primarily in '%s'.\n", ec.Location)
	} else {
		b.WriteString("The event location is unknown.\n")
	}
	fmt.Fprintf(&b, "%d photos are attached, indexed 0 to %d.\n", imageCount, imageCount-1)
	return b.String()
}

// repairMessage is sent back to the model after an unusable answer.
func repairMessage(err error) string {
	return fmt.Sprintf("Your answer could not be used: %v. Please fix the JSON and try again. "+
		"Remember to escape quotes inside strings with backslash. Output ONLY valid JSON, no other text.", err)
}

// describeWithRepair asks the model up to maxJSONRetries times. Every
// unusable answer is passed to retry with the feedback for the model, so the
// provider can extend its conversation before asking again.
func describeWithRepair(ask func() (string, error), retry func(answer, feedback string)) (*EventDescription, error) {
	var lastErr error
	var lastAnswer string
	for range maxJSONRetries {
		answer, err := ask()
		if err != nil {
			return nil, err
		}
		lastAnswer = answer

		desc, err := parseEventDescription(answer)
		if err == nil {
			return desc, nil
		}
		lastErr = err
		retry(answer, repairMessage(err))
	}
	return nil, fmt.Errorf("failed to parse event JSON after %d attempts: %w (last response: %s)", maxJSONRetries, lastErr, lastAnswer)
}

// parseEventDescription extracts and validates the JSON object in a model answer.
func parseEventDescription(content string) (*EventDescription, error) {
	var desc EventDescription
	if err := unmarshalLenient(extractJSON(content), &desc); err != nil {
		return nil, err
	}
	desc.Title = strings.TrimSpace(desc.Title)
	desc.Description = strings.TrimSpace(desc.Description)
	if desc.Title == "" || desc.Description == "" {
		return nil, ErrIncompleteResponse
	}
	return &desc, nil
}

// extractJSON attempts to extract JSON from a response that may contain extra text
func extractJSON(content string) string {
	start := strings.Index(content, "{")
	if start == -1 {
		return content
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		c := content[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return content[start : i+1]
			}
		}
	}

	// If no matching brace found, return from start
	return content[start:]
}
