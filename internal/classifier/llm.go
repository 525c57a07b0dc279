package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// LLMConfig configures the OpenAI-compatible reasoning endpoint.
type LLMConfig struct {
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	TimeoutMS int    `json:"timeout_ms"`
}

// LLMClassifier implements Classifier against an OpenAI-compatible
// chat-completions API, prompting for strict JSON output.
type LLMClassifier struct {
	config LLMConfig
	client *http.Client
	logger *zap.Logger
}

// NewLLMClassifier creates a classifier client.
func NewLLMClassifier(cfg LLMConfig, logger *zap.Logger) *LLMClassifier {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.openai.com/v1"
	}
	return &LLMClassifier{
		config: cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

const systemPrompt = `You are a tool-classification engine. Given one catalog item and a list of candidate skills, assign the item to the 1-3 most relevant skills with a confidence between 0.0 and 1.0 and a one-sentence reasoning each. If no candidate fits, return an empty assignments list and propose one new skill instead.

Respond with JSON only, no prose, matching exactly:
{"assignments":[{"skill_id":"...","confidence":0.0,"reasoning":"..."}],"primary_skill_id":"...","suggested_new_skill":{"name":"...","description":"...","reasoning":"..."}}

Omit "suggested_new_skill" (or set it to null) when an existing skill fits. Only use skill_id values from the candidate list.`

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Classify sends the item and candidate skills to the reasoning model
// and decodes its JSON verdict.
func (c *LLMClassifier) Classify(ctx context.Context, item ItemInfo, candidates []Candidate) (*Result, error) {
	userMsg, err := buildUserMessage(item, candidates)
	if err != nil {
		return nil, fmt.Errorf("classifier: build prompt: %w", err)
	}

	body, err := json.Marshal(chatRequest{
		Model: c.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userMsg},
		},
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("classifier: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.Endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("classifier: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("classifier: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("classifier: API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(chat.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty choices", ErrMalformed)
	}

	return ParseResult(chat.Choices[0].Message.Content)
}

func buildUserMessage(item ItemInfo, candidates []Candidate) (string, error) {
	payload := struct {
		Item struct {
			ID           string `json:"id"`
			Name         string `json:"name"`
			Description  string `json:"description"`
			InputSummary string `json:"input_summary,omitempty"`
		} `json:"item"`
		Candidates []Candidate `json:"candidate_skills"`
	}{Candidates: candidates}
	payload.Item.ID = item.ID
	payload.Item.Name = item.Name
	payload.Item.Description = item.Description
	payload.Item.InputSummary = item.InputSummary

	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ParseResult decodes and schema-checks the model's JSON content.
// Markdown code fences are tolerated; anything else non-conforming is
// rejected as ErrMalformed.
func ParseResult(content string) (*Result, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var res Result
	dec := json.NewDecoder(strings.NewReader(content))
	if err := dec.Decode(&res); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	for _, a := range res.Assignments {
		if a.SkillID == "" {
			return nil, fmt.Errorf("%w: assignment missing skill_id", ErrMalformed)
		}
		if a.Confidence < 0 || a.Confidence > 1 {
			return nil, fmt.Errorf("%w: confidence %v out of range", ErrMalformed, a.Confidence)
		}
	}
	if len(res.Assignments) > 3 {
		res.Assignments = res.Assignments[:3]
	}
	if res.NewSkill != nil && res.NewSkill.Name == "" {
		res.NewSkill = nil
	}
	return &res, nil
}
