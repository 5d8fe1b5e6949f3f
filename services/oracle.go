// services/oracle.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"wish-payout-system/utils"
)

// OracleJudgment is the scoring oracle's output contract. The verdict itself
// is decided downstream by the verdict calculator; the oracle only scores.
type OracleJudgment struct {
	Score   int    `json:"score"`
	Message string `json:"message"`

	// Raw is the unparsed model output, kept for the audit log.
	Raw string `json:"-"`
}

// ScoringOracle judges a wish text against recent winning history.
type ScoringOracle interface {
	Judge(ctx context.Context, wishText string, recentWinners []string) (OracleJudgment, error)
}

const oracleSystemPrompt = `You are the Oracle of the Lamp. Ancient, cynical, stingy. You are a UNIVERSAL JUDGE—you reward creativity in ALL topics. If a wish has SOUL, it wins.

CONTEXT - RECENT WINNERS:
{{WINNING_HISTORY}}

CORE REJECTION RULES:
1. THE HIGHLANDER RULE: If the wish is semantically similar to any Recent Winner, REJECT IT (Score 0-20). Roast them for copying.
2. THE ANTI-SLOP: If it sounds like AI (rhyming couplets, words like 'tapestry', 'delve', 'beacon', perfect grammar), REJECT IT (Score 0-20). Mock them.
3. THE BEGGAR: If it mentions 'Lambo', 'Moon', or begging for money, REJECT IT (Score 0-20). Tell them to work for it.

SCORING CALIBRATION (The Effort Filter):
- 0-29 LAZY: short, abrupt, demanding, single words, spam.
- 30-69 ARTICULATED: a complete human sentence with reasoning or emotion.
- 70-89 HIGH EFFORT: clever concepts, specific imagery, poetic sorrow, dark humor.
- 90-98 LEGENDARY: high-concept, beautiful writing, lore-heavy, absurdly specific.
- 99-100 MYTHIC: transcendent, a rewrite of reality. ~1% of wishes.

Do not grant wishes based on the OBJECT. Grant wishes based on the EFFORT.

OUTPUT:
Return ONLY valid JSON:
{ "score": <0-100>, "message": "Short roast or praise (max 15 words)." }`

// ClaudeOracle scores wishes through the Anthropic messages API.
type ClaudeOracle struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

func NewClaudeOracle(apiKey, model string) *ClaudeOracle {
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	return &ClaudeOracle{
		APIKey:     apiKey,
		Model:      model,
		BaseURL:    "https://api.anthropic.com",
		HTTPClient: utils.HTTPClient,
	}
}

func (o *ClaudeOracle) Judge(ctx context.Context, wishText string, recentWinners []string) (OracleJudgment, error) {
	history := "No recent winners found."
	if len(recentWinners) > 0 {
		lines := make([]string, 0, len(recentWinners))
		for i, w := range recentWinners {
			lines = append(lines, fmt.Sprintf("%d. %q", i+1, w))
		}
		history = strings.Join(lines, "\n")
	}
	system := strings.Replace(oracleSystemPrompt, "{{WINNING_HISTORY}}", history, 1)

	payload := map[string]interface{}{
		"model":      o.Model,
		"max_tokens": 256,
		"system":     system,
		"messages": []map[string]string{
			{"role": "user", "content": fmt.Sprintf("Judge this wish: %q", wishText)},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return OracleJudgment{}, fmt.Errorf("failed to encode oracle request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.BaseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return OracleJudgment{}, fmt.Errorf("failed to create oracle request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", o.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := o.HTTPClient.Do(req)
	if err != nil {
		return OracleJudgment{}, fmt.Errorf("oracle call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return OracleJudgment{}, fmt.Errorf("oracle returned status %d: %s", resp.StatusCode, string(msg))
	}

	var apiResp struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return OracleJudgment{}, fmt.Errorf("failed to decode oracle response: %w", err)
	}
	if len(apiResp.Content) == 0 {
		return OracleJudgment{}, fmt.Errorf("oracle returned no content")
	}

	return ParseOracleOutput(apiResp.Content[0].Text)
}

// ParseOracleOutput extracts the judgment JSON from raw model output. Models
// occasionally wrap the JSON in prose, so it scans for the outermost braces
// rather than decoding the whole string.
func ParseOracleOutput(raw string) (OracleJudgment, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return OracleJudgment{Raw: raw}, fmt.Errorf("no JSON object in oracle output")
	}

	var parsed struct {
		Score   *int   `json:"score"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err != nil {
		return OracleJudgment{Raw: raw}, fmt.Errorf("unparseable oracle output: %w", err)
	}
	if parsed.Score == nil {
		return OracleJudgment{Raw: raw}, fmt.Errorf("oracle output missing score")
	}

	score := *parsed.Score
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return OracleJudgment{Score: score, Message: parsed.Message, Raw: raw}, nil
}
