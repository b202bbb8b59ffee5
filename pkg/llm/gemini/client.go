// Package gemini adapts Google Gemini to the llm.Selector capability.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"google.golang.org/genai"

	"kazeguide/pkg/config"
	"kazeguide/pkg/faults"
	"kazeguide/pkg/llm"
	"kazeguide/pkg/model"
)

// Client implements llm.Selector for Google Gemini.
type Client struct {
	genaiClient *genai.Client
	modelName   string
	logPath     string
}

// NewClient creates a configured Gemini client.
func NewClient(cfg config.LLMConfig) (*Client, error) {
	if cfg.Key == "" {
		return nil, faults.Errorf(faults.MissingCredential, "gemini.new", "no API key configured")
	}
	modelName := cfg.Model
	if modelName == "" {
		modelName = "gemini-2.5-flash-lite"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.Key,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &Client{
		genaiClient: client,
		modelName:   modelName,
		logPath:     cfg.LogPath,
	}, nil
}

// selectionPayload is the JSON shape the model is asked to return.
type selectionPayload struct {
	WeatherComment string  `json:"weather_comment"`
	AdviceComment  string  `json:"advice_comment"`
	FinalText      string  `json:"final_text"`
	IsValid        *bool   `json:"is_valid"`
	Score          float64 `json:"score"`
}

// SelectAndGenerate implements llm.Selector with a single JSON-mode call.
func (c *Client) SelectAndGenerate(ctx context.Context, wc llm.WeatherContext, candidates []model.ReferenceComment) (*llm.Selection, error) {
	prompt := buildPrompt(wc, candidates)

	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}
	resp, err := c.genaiClient.Models.GenerateContent(ctx, c.modelName, genai.Text(prompt), cfg)
	if err != nil {
		c.logPrompt(prompt, fmt.Sprintf("ERROR: %v", err))
		return nil, faults.New(faults.LLMError, "gemini.select", err)
	}

	text, err := responseText(resp)
	if err != nil {
		c.logPrompt(prompt, fmt.Sprintf("TEXT_PARSE_ERROR: %v", err))
		return nil, faults.New(faults.LLMError, "gemini.select", err)
	}

	cleaned := cleanJSONBlock(text)
	c.logPrompt(prompt, cleaned)

	var payload selectionPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return nil, faults.Errorf(faults.LLMError, "gemini.select",
			"failed to unmarshal selection: %v. Response: %s", err, cleaned)
	}

	sel := &llm.Selection{
		WeatherComment: payload.WeatherComment,
		AdviceComment:  payload.AdviceComment,
		FinalText:      payload.FinalText,
	}
	if payload.IsValid != nil {
		sel.Validation = &model.ValidationResult{
			IsValid: *payload.IsValid,
			Score:   payload.Score,
		}
	}
	return sel, nil
}

func buildPrompt(wc llm.WeatherContext, candidates []model.ReferenceComment) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "あなたは天気コメントの編集者です。地点「%s」の%s向けのコメントを作成してください。\n\n",
		wc.LocationName, wc.TargetDate.In(model.JST).Format("2006-01-02"))

	sb.WriteString("予報:\n")
	if wc.Forecasts != nil {
		for _, f := range wc.Forecasts.Forecasts {
			fmt.Fprintf(&sb, "- %s %s 気温%.1f°C 降水%.1fmm 湿度%.0f%% 風速%.1fm/s\n",
				f.DateTime.Format("15:04"), f.WeatherDesc, f.Temperature,
				f.PrecipitationMM, f.HumidityPct, f.WindSpeedMPS)
		}
	}

	sb.WriteString("\n参照コメント候補:\n")
	for i, cand := range candidates {
		fmt.Fprintf(&sb, "%d. [%s/%s] %s\n", i+1, cand.Season, cand.Kind, cand.Text)
	}

	sb.WriteString(`
候補から予報に最も合う weather_comment と advice を1つずつ選び、
必要なら自然な一文 final_text に統合してください。
JSONで返答: {"weather_comment": "...", "advice_comment": "...", "final_text": "...", "is_valid": true, "score": 0.0〜1.0}`)
	return sb.String()
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates returned")
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return sb.String(), nil
}

func cleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimSuffix(text, "```")
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(text, "```")
	}
	return strings.TrimSpace(text)
}

func (c *Client) logPrompt(prompt, response string) {
	if c.logPath == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(c.logPath), 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(c.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		slog.Debug("Gemini: failed to open prompt log", "error", err)
		return
	}
	defer f.Close()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	entry := fmt.Sprintf("[%s] PROMPT:\n%s\n\nRESPONSE:\n%s\n%s\n",
		timestamp, prompt, response, strings.Repeat("-", 80))
	_, _ = f.WriteString(entry)
}
