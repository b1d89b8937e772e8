package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-sonnet-4-5-20250929"
const defaultOpenAIModel = "gpt-4o-mini"

// unknownName is the classifier's reserved answer for images that are not a
// recognizable figure; such responses carry low confidence and may omit the
// attribute and valuation fields.
const unknownName = "Unknown"

// ClassifyRequest carries one image plus the correction-conditioning block.
type ClassifyRequest struct {
	ImageBase64        string
	ImageMediaType     string // defaults to image/jpeg
	CorrectionGuidance string
}

// ClassifierResult is the validated identification the external classifier
// produced. Invalid or incomplete responses never leave the classifier as a
// partially-filled result; they surface as errors.
type ClassifierResult struct {
	Name         string
	Series       string
	Attribute    string
	GPower       int
	ReleaseYears string
	Rarity       string
	Confidence   float64
	Description  string
	ValueLow     float64
	ValueHigh    float64
}

type visionClassifier interface {
	Classify(ctx context.Context, req ClassifyRequest) (ClassifierResult, error)
}

// LLMClassifier calls a vision model (Anthropic or an OpenAI-compatible
// endpoint) constrained to the catalog taxonomy.
type LLMClassifier struct {
	cfg     Config
	catalog *Catalog
}

func NewLLMClassifier(cfg Config, catalog *Catalog) *LLMClassifier {
	return &LLMClassifier{cfg: cfg, catalog: catalog}
}

func (c *LLMClassifier) Classify(ctx context.Context, req ClassifyRequest) (ClassifierResult, error) {
	mediaType := req.ImageMediaType
	if mediaType == "" {
		mediaType = "image/jpeg"
	}
	systemPrompt, userPrompt := buildIdentifyPrompts(c.catalog.Names(), req.CorrectionGuidance)

	var responseText string
	var err error
	switch c.cfg.LLMProvider {
	case "openai":
		model := c.cfg.LLMModel
		if model == "" {
			model = defaultOpenAIModel
		}
		log.Printf("classify provider=openai model=%s guidance_bytes=%d", model, len(req.CorrectionGuidance))
		responseText, err = callOpenAIVision(ctx, c.cfg.OpenAIBaseURL, c.cfg.OpenAIAPIKey, model, systemPrompt, userPrompt, mediaType, req.ImageBase64)
	default:
		model := c.cfg.LLMModel
		if model == "" {
			model = defaultAnthropicModel
		}
		log.Printf("classify provider=anthropic model=%s guidance_bytes=%d", model, len(req.CorrectionGuidance))
		responseText, err = callAnthropicVision(ctx, c.cfg.AnthropicAPIKey, model, systemPrompt, userPrompt, mediaType, req.ImageBase64)
	}
	if err != nil {
		return ClassifierResult{}, err
	}

	result, err := parseVisionResponse(responseText)
	if err != nil {
		return ClassifierResult{}, err
	}
	if !c.catalog.Contains(result.Name) {
		log.Printf("classify name=%q is not in the catalog, keeping it", result.Name)
	}
	return result, nil
}

func buildIdentifyPrompts(catalogNames []string, correctionGuidance string) (string, string) {
	systemPrompt := fmt.Sprintf(`You are a Bakugan identification expert specializing in the original 2007-2012 toy line.

CATALOG OF KNOWN BAKUGAN:
%s

Identify the Bakugan in the user's image. Respond with JSON only (no markdown):
{
    "name": "exact name from catalog",
    "series": "Battle Brawlers / New Vestroia / Gundalian Invaders / Mechtanium Surge",
    "attribute": "Pyrus / Aquos / Subterra / Haos / Darkus / Ventus",
    "g_power": estimated G-Power number (280-900),
    "release_years": "e.g. 2007-2008",
    "rarity": "Common / Uncommon / Rare / Super Rare / Ultra Rare",
    "confidence": 0.0-1.0,
    "description": "brief description of identifying features",
    "value_low": estimated low collector value in USD,
    "value_high": estimated high collector value in USD
}

If the image is not a Bakugan or is unclear, set confidence below 0.3 and name to "Unknown".`,
		strings.Join(catalogNames, ", "))

	userPrompt := "Identify the Bakugan in this image."
	if correctionGuidance != "" {
		userPrompt = correctionGuidance + "\n" + userPrompt
	}
	return systemPrompt, userPrompt
}

// visionResponse is the untrusted wire shape. Valuation fields are pointers
// so a missing field is distinguishable from an explicit zero.
type visionResponse struct {
	Name         string   `json:"name"`
	Series       string   `json:"series"`
	Attribute    string   `json:"attribute"`
	GPower       int      `json:"g_power"`
	ReleaseYears string   `json:"release_years"`
	Rarity       string   `json:"rarity"`
	Confidence   float64  `json:"confidence"`
	Description  string   `json:"description"`
	ValueLow     *float64 `json:"value_low"`
	ValueHigh    *float64 `json:"value_high"`
}

func parseVisionResponse(responseText string) (ClassifierResult, error) {
	responseText = strings.TrimSpace(responseText)
	responseText = strings.TrimPrefix(responseText, "```json")
	responseText = strings.TrimPrefix(responseText, "```")
	responseText = strings.TrimSuffix(responseText, "```")
	responseText = strings.TrimSpace(responseText)

	// Models sometimes wrap the JSON object in prose.
	start := strings.Index(responseText, "{")
	end := strings.LastIndex(responseText, "}")
	if start < 0 || end <= start {
		return ClassifierResult{}, fmt.Errorf("no JSON object in classifier response: %s", truncateForError(responseText))
	}

	var resp visionResponse
	if err := json.Unmarshal([]byte(responseText[start:end+1]), &resp); err != nil {
		return ClassifierResult{}, fmt.Errorf("parsing classifier response: %w (response: %s)", err, truncateForError(responseText))
	}

	resp.Name = strings.TrimSpace(resp.Name)
	resp.Attribute = strings.TrimSpace(resp.Attribute)
	if resp.Name == "" {
		return ClassifierResult{}, fmt.Errorf("classifier response is missing name")
	}
	// "Unknown" is a complete answer on its own; everything else must carry
	// the attribute and a valuation range.
	if !strings.EqualFold(resp.Name, unknownName) {
		if resp.Attribute == "" {
			return ClassifierResult{}, fmt.Errorf("classifier response is missing attribute")
		}
		if resp.ValueLow == nil || resp.ValueHigh == nil {
			return ClassifierResult{}, fmt.Errorf("classifier response is missing valuation range")
		}
	}

	result := ClassifierResult{
		Name:         resp.Name,
		Series:       strings.TrimSpace(resp.Series),
		Attribute:    resp.Attribute,
		GPower:       resp.GPower,
		ReleaseYears: strings.TrimSpace(resp.ReleaseYears),
		Rarity:       strings.TrimSpace(resp.Rarity),
		Confidence:   resp.Confidence,
		Description:  strings.TrimSpace(resp.Description),
	}
	if resp.ValueLow != nil {
		result.ValueLow = *resp.ValueLow
	}
	if resp.ValueHigh != nil {
		result.ValueHigh = *resp.ValueHigh
	}
	if result.ValueHigh < result.ValueLow {
		result.ValueLow, result.ValueHigh = result.ValueHigh, result.ValueLow
	}
	return result, nil
}

func truncateForError(s string) string {
	if len(s) > 512 {
		return s[:512] + fmt.Sprintf("... [truncated, total_length=%d]", len(s))
	}
	return s
}

// --- Anthropic ---

func callAnthropicVision(ctx context.Context, apiKey, model, systemPrompt, userPrompt, mediaType, imageBase64 string) (string, error) {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	message, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64(mediaType, imageBase64),
				anthropic.NewTextBlock(userPrompt),
			),
		},
	})
	if err != nil {
		log.Printf("classify anthropic error: %v", err)
		return "", fmt.Errorf("Anthropic API error: %w", err)
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			log.Printf("classify anthropic response size=%d tokens_in=%d tokens_out=%d", len(block.Text), message.Usage.InputTokens, message.Usage.OutputTokens)
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("no text content in Anthropic response")
}

// --- OpenAI-compatible ---

type openAIVisionRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string for system, content parts for user
}

type openAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func callOpenAIVision(ctx context.Context, baseURL, apiKey, model, systemPrompt, userPrompt, mediaType, imageBase64 string) (string, error) {
	reqBody := openAIVisionRequest{
		Model: model,
		Messages: []openAIMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: []openAIContentPart{
				{Type: "text", Text: userPrompt},
				{Type: "image_url", ImageURL: &openAIImageURL{
					URL: fmt.Sprintf("data:%s;base64,%s", mediaType, imageBase64),
				}},
			}},
		},
		MaxTokens:   1024,
		Temperature: 0.3,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", strings.TrimSuffix(baseURL, "/")+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Printf("classify openai error: %v", err)
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	var openAIResp openAIResponse
	if err := json.Unmarshal(respBody, &openAIResp); err != nil {
		return "", fmt.Errorf("parsing OpenAI response: %w", err)
	}
	if openAIResp.Error != nil {
		log.Printf("classify openai api error: %s", openAIResp.Error.Message)
		return "", fmt.Errorf("OpenAI API error: %s", openAIResp.Error.Message)
	}
	if len(openAIResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in OpenAI response")
	}

	log.Printf("classify openai response size=%d", len(openAIResp.Choices[0].Message.Content))
	return openAIResp.Choices[0].Message.Content, nil
}
