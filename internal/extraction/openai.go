package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	apperr "github.com/tappedai/event-crawler/internal/errors"
	"github.com/tappedai/event-crawler/internal/validation"
)

const (
	defaultTimeout      = 60 * time.Second
	defaultContentLimit = 15_000
	maxResponseSize     = 1 << 20

	functionName = "extractor"
)

// Sentinel errors for extraction service calls.
var (
	ErrRateLimited = errors.New("extraction: rate limited by server")
	ErrBadRequest  = errors.New("extraction: bad request")
	ErrAuth        = errors.New("extraction: unauthorized")
	ErrServer      = errors.New("extraction: server error")
	ErrNoToolCall  = errors.New("extraction: response has no extractor call")
)

// Error wraps an underlying error with the operation and page.
type Error struct {
	Op  string
	URL string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("extraction %s [%s]: %v", e.Op, e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

const systemPrompt = `you're in charge of parsing the content of a webpage for an event and extracting the event details.
The venue that runs these events hosted both events with and without music.
I'm only interested in the music events. Given the page content, extract the necessary details`

// extractorFunction is the fixed schema contract sent with every request.
var extractorFunction = map[string]any{
	"name":        functionName,
	"description": "Extracts fields from the input.",
	"parameters": map[string]any{
		"type": "object",
		"properties": map[string]any{
			"isMusicEvent": map[string]any{
				"type":        "boolean",
				"description": "Whether this website is for a music event.",
			},
			"performerNames": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "the specific names of the musicians/performers/Djs for the event. do not include the venue name or generic names for the performers like 'international guest', 'resident DJ', 'special guest', etc.",
			},
			"eventTitle": map[string]any{
				"type":        "string",
				"description": "The title of the event or an empty string.",
			},
			"eventDescription": map[string]any{
				"type":        "string",
				"description": "The description of the event or an empty string.",
			},
			"startTime": map[string]any{
				"type":        "string",
				"description": "The start time or when the doors open for the event in the format 'YYYY-MM-DDTHH:MM:SS'",
			},
			"endTime": map[string]any{
				"type":        "string",
				"description": "The end time of the event in the format 'YYYY-MM-DDTHH:MM:SS'",
			},
			"doorPrice": map[string]any{
				"type":        "number",
				"description": "The price of the event at the door or null if not provided. (and 0 if it's free)",
			},
			"ticketPrice": map[string]any{
				"type":        "number",
				"description": "The price of the event for tickets or null if not provided. (and 0 if it's free)",
			},
			"flierUrl": map[string]any{
				"type":        "string",
				"description": "The URL of the flier for the event or an empty string. MUST BE A URL, DO NOT USE a placeholder like 'N/A' or 'URL_FOR_THE_FLIER' or '[FLIER URL]' or similar.",
			},
			"eventUrl": map[string]any{
				"type":        "string",
				"description": "the URL for the ticketing page of the event or an empty string. (usually eventbrite.com, shotgun.live, dice.fm, etix.com, etc.). MUST BE A URL, DO NOT use a placeholder like 'N/A' or 'URL_FOR_THE_EVENT' or '[EVENT URL]' or similar",
			},
		},
		"required": []string{
			"isMusicEvent", "performerNames", "eventTitle", "eventDescription",
			"startTime", "endTime", "doorPrice", "ticketPrice",
		},
	},
}

// OpenAIConfig configures an OpenAIExtractor.
type OpenAIConfig struct {
	// Location interprets times the extractor returns without an offset.
	Location *time.Location

	Endpoint     string
	APIKey       string
	Model        string
	Timeout      time.Duration
	ContentLimit int
}

// OpenAIExtractor calls a chat-completions endpoint with a forced
// function call and validates the arguments it returns.
type OpenAIExtractor struct {
	http      *http.Client
	validator *validation.Validator
	logger    *slog.Logger
	now       func() time.Time
	cfg       OpenAIConfig
}

// NewOpenAI creates an extractor.
func NewOpenAI(cfg OpenAIConfig, logger *slog.Logger) *OpenAIExtractor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.ContentLimit <= 0 {
		cfg.ContentLimit = defaultContentLimit
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &OpenAIExtractor{
		http:      &http.Client{Timeout: cfg.Timeout},
		validator: validation.New(),
		logger:    logger,
		now:       time.Now,
		cfg:       cfg,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatTool struct {
	Type     string         `json:"type"`
	Function map[string]any `json:"function"`
}

type chatRequest struct {
	ToolChoice  any           `json:"tool_choice"`
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Tools       []chatTool    `json:"tools"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			ToolCalls []struct {
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
}

// Extract implements Extractor.
func (e *OpenAIExtractor) Extract(ctx context.Context, req Request) Result {
	args, err := e.call(ctx, req)
	if err != nil {
		return Failed(&Error{Op: "call", URL: req.URL, Err: err})
	}

	rec, err := e.decode(args)
	if err != nil {
		return Failed(&Error{Op: "decode", URL: req.URL, Err: err})
	}
	return Succeeded(rec)
}

func (e *OpenAIExtractor) call(ctx context.Context, req Request) ([]byte, error) {
	body, err := json.Marshal(chatRequest{
		Model: e.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf("the page content: %q", req.Content(e.cfg.ContentLimit))},
		},
		Tools: []chatTool{{Type: "function", Function: extractorFunction}},
		ToolChoice: map[string]any{
			"type":     "function",
			"function": map[string]string{"name": functionName},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)

	e.logger.Debug("extraction request", "url", req.URL, "model", e.cfg.Model)

	resp, err := e.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case http.StatusBadRequest:
		return nil, ErrBadRequest
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrAuth
	default:
		if resp.StatusCode >= 500 {
			return nil, ErrServer
		}
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	for _, choice := range parsed.Choices {
		for _, call := range choice.Message.ToolCalls {
			if call.Function.Name == functionName {
				return []byte(call.Function.Arguments), nil
			}
		}
	}
	return nil, ErrNoToolCall
}

// decode validates the function arguments and applies defaults.
func (e *OpenAIExtractor) decode(args []byte) (*EventRecord, error) {
	var raw rawEvent
	if err := json.Unmarshal(args, &raw); err != nil {
		return nil, apperr.Extractionf("malformed extractor arguments: %v", err)
	}
	if err := e.validator.Validate(raw); err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			return nil, apperr.Wrap(err, apperr.CodeExtraction, "extractor arguments violate schema").WithDetails(appErr.Details)
		}
		return nil, apperr.Wrap(err, apperr.CodeExtraction, "extractor arguments violate schema")
	}
	return raw.normalize(e.now(), e.cfg.Location), nil
}
