package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/fairwaylabs/coachvoice/internal/config"
	"github.com/fairwaylabs/coachvoice/internal/observability"
	"github.com/rs/zerolog"
)

// Client is a single-shot client for the remote speech synthesis endpoint.
// Exactly one network attempt per Synthesize call; all retry policy (of
// which the cache warmer has none) belongs to the caller.
type Client struct {
	apiURL     string
	apiKey     string
	voice      string
	model      string
	speed      float64
	httpClient *http.Client
	logger     zerolog.Logger
}

// Request is the synthesis request payload
type Request struct {
	Text  string  `json:"text"`
	Voice string  `json:"voice"`
	Model string  `json:"model"`
	Speed float64 `json:"speed"`
}

// NewClient creates a synthesis client from configuration
func NewClient(cfg *config.Config) *Client {
	return &Client{
		apiURL: cfg.SynthesisURL,
		apiKey: cfg.SynthesisAPIKey,
		voice:  cfg.SynthesisVoice,
		model:  cfg.SynthesisModel,
		speed:  cfg.SynthesisSpeed,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout(),
		},
		logger: observability.ComponentLogger("synth"),
	}
}

// Synthesize converts text to audio bytes with a single network attempt.
// A 200 response yields the binary audio body; any other status is a
// typed server error.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &Error{Kind: KindInvalidRequest, Err: errors.New("empty text")}
	}

	reqBody := Request{
		Text:  text,
		Voice: c.voice,
		Model: c.model,
		Speed: c.speed,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &Error{Kind: KindInvalidRequest, Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, &Error{Kind: KindInvalidRequest, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		synthErr := classifyTransportError(err)
		observability.RecordSynthesis(string(synthErr.Kind), latency)
		return nil, synthErr
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		kind := KindServer
		if resp.StatusCode == http.StatusBadRequest {
			kind = KindInvalidRequest
		}
		observability.RecordSynthesis(string(kind), latency)
		return nil, &Error{
			Kind:       kind,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("synthesis endpoint returned status %d", resp.StatusCode),
		}
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		observability.RecordSynthesis(string(KindNetwork), latency)
		return nil, &Error{Kind: KindNetwork, Err: fmt.Errorf("failed to read audio body: %w", err)}
	}

	observability.RecordSynthesis("success", latency)
	c.logger.Debug().
		Int("bytes", len(audio)).
		Dur("latency", latency).
		Msg("Synthesized phrase audio")

	return audio, nil
}

// classifyTransportError sorts a transport failure into timeout vs network
func classifyTransportError(err error) *Error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	return &Error{Kind: KindNetwork, Err: err}
}
