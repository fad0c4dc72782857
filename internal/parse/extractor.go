package parse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const extractPrompt = `Extract structured trade info from the following message:

Message: %q

Return a JSON object with fields:
- contractId (string, e.g., SX5E)
- expiryDate (string, e.g., DEC25)
- buySell (BUY or SELL)
- price (float, TRF spread, e.g., 61)
- basis (float, vs value, e.g., 3.75)`

// OpenAIExtractor implements Extractor against an OpenAI-compatible
// chat-completions endpoint, asking for a strict JSON object.
type OpenAIExtractor struct {
	BaseURL string
	APIKey  string
	Model   string
	Client  *http.Client
}

// NewOpenAIExtractor creates an extractor with a sensible request timeout.
func NewOpenAIExtractor(baseURL, apiKey, model string) *OpenAIExtractor {
	return &OpenAIExtractor{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Extract sends the message to the model and decodes the returned JSON into
// TradeFields. Every failure mode (transport, status, malformed JSON,
// unknown fields) is returned as an error for the parser to swallow.
func (e *OpenAIExtractor) Extract(ctx context.Context, text string) (*TradeFields, error) {
	reqBody := chatRequest{
		Model: e.Model,
		Messages: []chatMessage{
			{Role: "system", Content: "You are a precise trade parser."},
			{Role: "user", Content: fmt.Sprintf(extractPrompt, text)},
		},
		ResponseFormat: &respFormat{Type: "json_object"},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.APIKey)

	resp, err := e.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("extractor returned status %d", resp.StatusCode)
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("decode extractor response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return nil, fmt.Errorf("extractor returned no choices")
	}

	var fields TradeFields
	dec := json.NewDecoder(strings.NewReader(cr.Choices[0].Message.Content))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("decode trade fields: %w", err)
	}
	return &fields, nil
}
