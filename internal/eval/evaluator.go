package eval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// CriterionScore is one scored evaluation criterion.
type CriterionScore struct {
	Name        string `json:"name"`
	Score       int    `json:"score"`
	Explanation string `json:"explanation"`
}

// Evaluation is the structured interview assessment.
type Evaluation struct {
	Criteria   []CriterionScore `json:"criteria"`
	FinalScore int              `json:"final_score"`
}

// Client scores interview transcripts through the chat-completions API using
// a forced tool call, so the model can only answer in the evaluation schema.
type Client struct {
	HTTPClient *http.Client
	APIKey     string
	Model      string
	BaseURL    string
}

func NewClient(apiKey, model string) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		APIKey:     apiKey,
		Model:      model,
		BaseURL:    "https://api.openai.com/v1",
	}
}

type chatMessage struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []toolCall `json:"tool_calls,omitempty"`
}

type toolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Tools          []json.RawMessage `json:"tools,omitempty"`
	ToolChoice     interface{}       `json:"tool_choice,omitempty"`
	ResponseFormat interface{}       `json:"response_format,omitempty"`
	Temperature    *float64          `json:"temperature,omitempty"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	FinishReason string      `json:"finish_reason"`
	Message      chatMessage `json:"message"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
}

const evaluateTool = `{
  "type": "function",
  "function": {
    "name": "evaluate_interview",
    "description": "Evaluate interview responses based on specified criteria",
    "parameters": {
      "type": "object",
      "properties": {
        "criteria": {
          "type": "array",
          "description": "Array of evaluation criteria with scores and explanations",
          "items": {
            "type": "object",
            "properties": {
              "name": {"type": "string", "description": "Name of the evaluation criterion"},
              "score": {"type": "integer", "description": "Score from 0-100", "minimum": 0, "maximum": 100},
              "explanation": {"type": "string", "description": "Detailed explanation of the score"}
            },
            "required": ["name", "score", "explanation"]
          }
        },
        "final_score": {"type": "integer", "description": "Final score from 0-100 based on above criteria"}
      },
      "required": ["criteria", "final_score"]
    }
  }
}`

const evaluationPrompt = `You are an expert interviewer reviewing a completed phone interview.

Conversation transcript:
%s

Score the candidate against each of these criteria (0-100 with an explanation), then give a final overall score:
%s

Write all explanations in %s.`

// Evaluate scores the transcript against the given criteria. Explanations are
// written in the requested language.
func (c *Client) Evaluate(ctx context.Context, transcript string, criteria []string, language string) (*Evaluation, error) {
	if c.APIKey == "" {
		return nil, fmt.Errorf("evaluator: api key missing")
	}
	if language == "" {
		language = "English"
	}

	prompt := fmt.Sprintf(evaluationPrompt, transcript, "- "+strings.Join(criteria, "\n- "), language)
	req := chatRequest{
		Model:    c.Model,
		Messages: []chatMessage{{Role: "system", Content: prompt}},
		Tools:    []json.RawMessage{json.RawMessage(evaluateTool)},
		ToolChoice: map[string]interface{}{
			"type":     "function",
			"function": map[string]string{"name": "evaluate_interview"},
		},
	}
	msg, err := c.complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(msg.ToolCalls) == 0 {
		return nil, fmt.Errorf("evaluator: no tool call in response")
	}

	var ev Evaluation
	if err := json.Unmarshal([]byte(msg.ToolCalls[0].Function.Arguments), &ev); err != nil {
		return nil, fmt.Errorf("evaluator: malformed tool arguments: %w", err)
	}
	return &ev, nil
}

const endClassifierPrompt = `You are monitoring a live phone interview. Given the conversation so far, decide whether it has concluded (a goodbye, a thank-you-and-farewell, or an announcement that the interview is over).

Conversation:
%s

Respond with JSON only, exactly {"end": true} or {"end": false}.`

// ClassifyCallEnd reports whether the conversation has concluded. Any
// transport or parse failure is returned as an error so the caller can treat
// it as "not ended".
func (c *Client) ClassifyCallEnd(ctx context.Context, transcript string) (bool, error) {
	if c.APIKey == "" {
		return false, fmt.Errorf("end classifier: api key missing")
	}

	zero := 0.0
	req := chatRequest{
		Model:          c.Model,
		Messages:       []chatMessage{{Role: "system", Content: fmt.Sprintf(endClassifierPrompt, transcript)}},
		ResponseFormat: map[string]string{"type": "json_object"},
		Temperature:    &zero,
	}
	msg, err := c.complete(ctx, req)
	if err != nil {
		return false, err
	}

	var verdict struct {
		End bool `json:"end"`
	}
	if err := json.Unmarshal([]byte(msg.Content), &verdict); err != nil {
		return false, fmt.Errorf("end classifier: malformed verdict %q: %w", msg.Content, err)
	}
	return verdict.End, nil
}

func (c *Client) complete(ctx context.Context, body chatRequest) (*chatMessage, error) {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("chat completions error: status=%d body=%s", resp.StatusCode, string(b))
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, err
	}
	if len(cr.Choices) == 0 {
		return nil, fmt.Errorf("chat completions: empty choices")
	}
	return &cr.Choices[0].Message, nil
}
