package aiproxy

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jo-hoe/instaauto/internal/caption"
	"github.com/jo-hoe/instaauto/internal/common"
	"github.com/jo-hoe/instaauto/internal/config"
)

var _ caption.Generator = (*Client)(nil)

const (
	endpointChatCompletions = "v1/chat/completions"

	defaultTimeout    = 60 * time.Second
	errorSnippetLimit = 400
	maxImageBytes     = 20 * 1024 * 1024

	defaultSystemPrompt = "You write short, engaging Instagram captions. Reply with the caption text only, without quotes or commentary."
	defaultInstructions = "Write an Instagram caption for this post."

	dataURLPrefix    = "data:"
	dataURLBase64Sep = ";base64,"
)

var (
	errEmptyCompletion = errors.New("empty completion")
	errImageTooLarge   = errors.New("image too large for inline captioning")
)

// Client implements caption.Generator by calling an OpenAI-compatible AI Proxy.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	model       string
	system      string
	instr       string
	temperature *float32
	maxTokens   *int
}

// New creates a new AI Proxy caption client.
func New(cfg config.AIProxySettings) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: defaultTimeout},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		system:      cfg.SystemPrompt,
		instr:       cfg.Instructions,
		temperature: optionalFloat32(cfg.Temperature),
		maxTokens:   optionalInt(cfg.MaxTokens),
	}
}

// GenerateCaption asks the model for a caption. Images are attached inline as
// a data URL; other media (video) is described by file name only.
func (c *Client) GenerateCaption(ctx context.Context, imagePath string) (string, error) {
	mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(imagePath)))
	var dataURL string
	if strings.HasPrefix(mt, "image/") {
		data, err := readImage(imagePath)
		if err != nil {
			return "", err
		}
		dataURL = buildDataURL(mt, data)
	}
	reqBody := c.captionRequest(filepath.Base(imagePath), dataURL)

	u, err := url.JoinPath(c.baseURL, endpointChatCompletions)
	if err != nil {
		return "", fmt.Errorf("join url: %w", err)
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set(common.HeaderContentType, common.ContentTypeJSON)
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set(common.HeaderAuthorization, common.AuthSchemeBearer+" "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("http do: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("aiproxy status %d: %s", resp.StatusCode, truncate(string(respBytes), errorSnippetLimit))
	}

	var comp chatResponse
	if err := json.Unmarshal(respBytes, &comp); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if len(comp.Choices) == 0 || strings.TrimSpace(comp.Choices[0].Message.Content) == "" {
		return "", errEmptyCompletion
	}
	// Drop quotes the model may wrap around the caption.
	return strings.Trim(strings.TrimSpace(comp.Choices[0].Message.Content), "\"“”"), nil
}

func readImage(path string) ([]byte, error) {
	f, err := os.Open(path) // #nosec G304 - path comes from a stored job record
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer func() { _ = f.Close() }()
	data, err := io.ReadAll(io.LimitReader(f, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", errImageTooLarge, path, maxImageBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("image is empty")
	}
	return data, nil
}

// captionRequest asks for a caption for fileName, attaching the image when
// imageDataURL is set.
func (c *Client) captionRequest(fileName, imageDataURL string) chatRequest {
	prompt := fmt.Sprintf("%s\nFile: %s", orDefault(c.instr, defaultInstructions), fileName)
	parts := []contentPart{{Type: "text", Text: prompt}}
	if imageDataURL != "" {
		parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageRef{URL: imageDataURL}})
	}
	return chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: orDefault(c.system, defaultSystemPrompt)},
			{Role: "user", Content: parts},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}

func buildDataURL(mt string, data []byte) string {
	return dataURLPrefix + mt + dataURLBase64Sep + base64.StdEncoding.EncodeToString(data)
}

func optionalFloat32(v float32) *float32 {
	if v == 0 {
		return nil
	}
	return &v
}

func optionalInt(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Wire types for the subset of the Chat Completions API used here.

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float32      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

// Content is a plain string for the system message and a list of parts for the user message.
type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageRef `json:"image_url,omitempty"`
}

type imageRef struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}
