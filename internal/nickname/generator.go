package nickname

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Source labels where a generated name came from.
type Source string

const (
	// SourceRemote marks a name produced by the text-generation endpoint.
	SourceRemote Source = "gpt"
	// SourceFallback marks a name drawn from the local pool.
	SourceFallback Source = "random"
)

const (
	// MaxNameLength bounds the rune length of accepted remote names.
	MaxNameLength = 15

	defaultModel     = "gpt-4o"
	defaultTimeout   = 8 * time.Second
	maxResponseBytes = 64 << 10

	systemPrompt = "You invent playful, lightly satirical fan nicknames for a signature wall. " +
		"Reply with one name of at most 15 characters, in English or Korean. Reply with the name only."
	userPrompt = "Give me one new fan nickname."
)

var (
	errEmptyCompletion = errors.New("nickname: empty completion")
	errNameTooLong     = errors.New("nickname: completion exceeds length bound")
)

// fallbackPool is the fixed local pool used whenever the remote call is unavailable.
var fallbackPool = []string{
	"Ye Fan",
	"Moon Walker",
	"Stronger Soul",
	"Late Registrar",
	"Runaway Dreamer",
	"Gold Digger",
	"Heartless Hero",
	"Power Seeker",
	"Flashing Light",
	"Famous Stranger",
	"Ghost Town Kid",
	"Saint Pablo",
	"Donda Child",
	"Graduation Cap",
	"Blkkk Skkkn",
	"Ultralight Beam",
	"Touch The Sky",
	"Good Life Fan",
	"Jesus Walker",
	"Homecoming Fan",
}

// Name is a generated display nickname.
type Name struct {
	Value  string `json:"name"`
	Source Source `json:"type"`
}

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Config describes the remote endpoint and its collaborators.
type Config struct {
	Endpoint   string
	APIKey     string
	Model      string
	Timeout    time.Duration
	HTTPClient HTTPDoer
	Clock      func() time.Time
	Random     *rand.Rand
	Logger     *zap.Logger
}

// Generator produces short display nicknames.
type Generator struct {
	endpoint string
	apiKey   string
	model    string
	timeout  time.Duration
	client   HTTPDoer
	clock    func() time.Time
	randomMu sync.Mutex
	random   *rand.Rand
	logger   *zap.Logger
}

// NewGenerator constructs a Generator. The remote path is disabled when no API key is configured.
func NewGenerator(cfg Config) *Generator {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	random := cfg.Random
	if random == nil {
		random = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		endpoint: strings.TrimSpace(cfg.Endpoint),
		apiKey:   strings.TrimSpace(cfg.APIKey),
		model:    model,
		timeout:  timeout,
		client:   client,
		clock:    clock,
		random:   random,
		logger:   logger,
	}
}

// RemoteEnabled reports whether a remote call will be attempted.
func (g *Generator) RemoteEnabled() bool {
	return g.apiKey != "" && g.endpoint != ""
}

// Generate returns a non-empty nickname. Remote failures fall back to the local pool without retry.
func (g *Generator) Generate(ctx context.Context) Name {
	if g.RemoteEnabled() {
		name, err := g.generateRemote(ctx)
		if err == nil {
			return Name{Value: name, Source: SourceRemote}
		}
		g.logger.Warn("nickname generation fell back to local pool", zap.Error(err))
	}
	return Name{Value: g.pick(), Source: SourceFallback}
}

func (g *Generator) pick() string {
	g.randomMu.Lock()
	defer g.randomMu.Unlock()
	return fallbackPool[g.random.IntN(len(fallbackPool))]
}

func (g *Generator) nextSeed() uint64 {
	g.randomMu.Lock()
	defer g.randomMu.Unlock()
	return g.random.Uint64()
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

func (g *Generator) generateRemote(ctx context.Context) (string, error) {
	seed := fmt.Sprintf("%d-%d", g.clock().UnixNano(), g.nextSeed())
	payload, err := json.Marshal(chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt + " (seed " + seed + ")"},
		},
		Temperature: 0.9,
		MaxTokens:   10,
	})
	if err != nil {
		return "", err
	}

	requestCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(requestCtx, http.MethodPost, g.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+g.apiKey)
	request.Header.Set("Cache-Control", "no-cache")

	response, err := g.client.Do(request)
	if err != nil {
		return "", fmt.Errorf("nickname: request failed: %w", err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("nickname: read response: %w", err)
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return "", fmt.Errorf("nickname: unexpected status %d", response.StatusCode)
	}
	return parseCompletion(body)
}

func parseCompletion(body []byte) (string, error) {
	if !gjson.ValidBytes(body) {
		return "", errEmptyCompletion
	}
	content := gjson.GetBytes(body, "choices.0.message.content").String()
	name := strings.Trim(strings.TrimSpace(content), "\"'“”「」")
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errEmptyCompletion
	}
	if len([]rune(name)) > MaxNameLength {
		return "", errNameTooLong
	}
	return name, nil
}

// InPool reports whether name belongs to the local fallback pool.
func InPool(name string) bool {
	for _, candidate := range fallbackPool {
		if candidate == name {
			return true
		}
	}
	return false
}
