package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const googleBaseURL = "https://generativelanguage.googleapis.com/v1beta/models"

// googleRequest represents the request body for Google GenAI API.
type googleRequest struct {
	Contents          []googleContent `json:"contents"`
	SystemInstruction *googleContent  `json:"systemInstruction,omitempty"`
	GenerationConfig  googleGenConfig `json:"generationConfig"`
}

type googleContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []googlePart `json:"parts"`
}

type googlePart struct {
	Text string `json:"text"`
}

type googleGenConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

// googleResponse represents the response from Google GenAI API.
type googleResponse struct {
	Candidates []struct {
		Content struct {
			Parts []googlePart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int64 `json:"promptTokenCount"`
		CandidatesTokenCount int64 `json:"candidatesTokenCount"`
	} `json:"usageMetadata,omitempty"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// callGoogle makes a non-streaming request to the Google GenAI API.
func (s *Service) callGoogle(ctx context.Context, userPrompt, systemPrompt string) (*Completion, error) {
	url := fmt.Sprintf("%s/%s:generateContent?key=%s", googleBaseURL, s.config.GoogleModel, s.config.GoogleAPIKey)

	req := googleRequest{
		Contents: []googleContent{
			{Role: "user", Parts: []googlePart{{Text: userPrompt}}},
		},
		GenerationConfig: googleGenConfig{
			Temperature:     0.3,
			MaxOutputTokens: 4096,
		},
	}
	if systemPrompt != "" {
		req.SystemInstruction = &googleContent{Parts: []googlePart{{Text: systemPrompt}}}
	}

	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("batch: failed to marshal Google request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("batch: failed to build Google request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("batch: Google API request failed: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("batch: failed to read Google response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("batch: Google HTTP %d: %s", httpResp.StatusCode, string(body))
	}

	var resp googleResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("batch: failed to parse Google response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("batch: Google API error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("batch: empty response from Google")
	}
	text := resp.Candidates[0].Content.Parts[0].Text
	if text == "" {
		return nil, fmt.Errorf("batch: empty content in Google response")
	}

	completion := &Completion{Text: text, Model: s.config.GoogleModel}
	if resp.UsageMetadata != nil {
		in, out := resp.UsageMetadata.PromptTokenCount, resp.UsageMetadata.CandidatesTokenCount
		completion.TokensInput = &in
		completion.TokensOutput = &out
	}
	return completion, nil
}
