// Package executor implements the streaming request engine: a bounded
// retry/failover search over (account x endpoint) combinations for one
// logical generation request, with SSE parsing of the winning stream.
package executor

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/agpool/agpool/internal/account"
	"github.com/agpool/agpool/internal/auth/antigravity"
	"github.com/agpool/agpool/internal/config"
	"github.com/agpool/agpool/internal/translator"
	"github.com/agpool/agpool/internal/util"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// streamScannerBuffer sizes the SSE line scanner; individual events can carry
// large text deltas.
const streamScannerBuffer = 52_428_800

const (
	defaultTemperature     = 0.7
	defaultMaxOutputTokens = 8192
	defaultRetryAfter      = time.Second
)

// Request is one logical generation request.
type Request struct {
	// Model is the target model name. An "antigravity/" prefix is stripped
	// before the name is sent upstream.
	Model string

	// Messages is the raw chat message array (or an envelope containing a
	// "messages" key) to be converted into upstream contents.
	Messages []byte

	// Temperature and MaxOutputTokens override the generation defaults when
	// non-nil.
	Temperature     *float64
	MaxOutputTokens *int64
}

// StreamChunk is one normalized increment from the response stream.
type StreamChunk struct {
	Text         string
	FinishReason string
	Err          error
}

// Engine drives retries across the account pool and the endpoint fallback
// list for streaming generation calls.
type Engine struct {
	cfg        *config.Config
	pool       *account.Pool
	httpClient *http.Client

	// baseURLs is overridable for tests.
	baseURLs []string

	// Bootstrap is invoked when a request arrives and the pool is empty. It
	// should provision at least one account (interactive login) or fail.
	Bootstrap func(ctx context.Context) error
}

// NewEngine creates a streaming engine over the given pool.
func NewEngine(cfg *config.Config, pool *account.Pool, httpClient *http.Client) *Engine {
	if httpClient == nil {
		httpClient = util.SetProxy(cfg, &http.Client{})
	}
	return &Engine{
		cfg:        cfg,
		pool:       pool,
		httpClient: httpClient,
		baseURLs:   antigravity.BaseURLFallbackOrder,
	}
}

// ExecuteStream runs the retry/failover loop until a stream opens, then
// returns a channel of normalized chunks. The channel is closed when the
// stream ends. Once a stream has opened the attempt is committed: mid-stream
// faults end the channel early with an error chunk instead of retrying, so
// already-delivered text is never replayed.
//
// The error return covers everything before a stream opens: no usable
// credential, a non-retryable upstream rejection, or budget exhaustion.
func (e *Engine) ExecuteStream(ctx context.Context, req *Request) (<-chan StreamChunk, error) {
	poolSize := e.pool.Len()
	if poolSize == 0 {
		if e.Bootstrap == nil {
			return nil, account.ErrNoValidCredential
		}
		if errBoot := e.Bootstrap(ctx); errBoot != nil {
			return nil, fmt.Errorf("executor: bootstrap account: %w", errBoot)
		}
		poolSize = e.pool.Len()
		if poolSize == 0 {
			return nil, account.ErrNoValidCredential
		}
	}

	body, errBody := e.buildRequestBody(req)
	if errBody != nil {
		return nil, errBody
	}
	model := strings.TrimPrefix(req.Model, "antigravity/")

	retryBudget := e.retriesPerAccount() * poolSize
	var lastErr error

	for attempt := 1; attempt <= retryBudget; attempt++ {
		accessToken, projectID, errToken := e.pool.Token(ctx)
		if errToken != nil {
			return nil, errToken
		}

		// Fresh identifiers per attempt so upstream idempotency tracking
		// never collides a retry with the failed attempt it replaces.
		payload, _ := sjson.SetBytes(body, "project", projectID)
		payload, _ = sjson.SetBytes(payload, "model", model)
		payload, _ = sjson.SetBytes(payload, "requestId", uuid.NewString())
		payload, _ = sjson.SetBytes(payload, "request.sessionId", uuid.NewString())

		for _, baseURL := range e.baseURLs {
			ch, errAttempt := e.tryEndpoint(ctx, baseURL, accessToken, payload)
			if errAttempt == nil {
				return ch, nil
			}
			lastErr = errAttempt

			switch se, ok := errAttempt.(statusErr); {
			case ok && se.code == http.StatusTooManyRequests:
				// Account-level signal: rotate and restart instead of
				// walking the remaining endpoints.
				e.pool.MarkRateLimited(se.retryAfter)
			case ok && se.code >= http.StatusInternalServerError:
				log.Debugf("executor: %s returned %d, trying next endpoint", baseURL, se.code)
				continue
			case ok:
				return nil, errAttempt
			default:
				log.Debugf("executor: %s transport error: %v", baseURL, errAttempt)
				continue
			}
			break
		}
		if lastErr != nil {
			log.Warnf("executor: attempt %d/%d failed: %v", attempt, retryBudget, lastErr)
		}
	}

	return nil, &ExhaustedError{Attempts: retryBudget, LastErr: lastErr}
}

func (e *Engine) retriesPerAccount() int {
	if e.cfg != nil && e.cfg.RequestRetry > 0 {
		return e.cfg.RequestRetry
	}
	return 3
}

// buildRequestBody assembles the wrapped envelope minus the per-attempt
// fields (project, model, requestId, sessionId).
func (e *Engine) buildRequestBody(req *Request) ([]byte, error) {
	if req == nil || strings.TrimSpace(req.Model) == "" {
		return nil, fmt.Errorf("executor: request missing model")
	}
	contents := translator.ConvertMessagesToContents(req.Messages)

	temperature := defaultTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := int64(defaultMaxOutputTokens)
	if req.MaxOutputTokens != nil {
		maxTokens = *req.MaxOutputTokens
	}

	out := `{"project":"","model":"","userAgent":"antigravity","requestId":"","request":{}}`
	out, _ = sjson.SetRaw(out, "request.contents", string(contents))
	out, _ = sjson.Set(out, "request.generationConfig.temperature", temperature)
	out, _ = sjson.Set(out, "request.generationConfig.maxOutputTokens", maxTokens)
	return []byte(out), nil
}

// tryEndpoint performs one POST against one base URL. A nil error means the
// stream opened and the returned channel is live; a statusErr carries the
// upstream status for the caller's routing decision.
func (e *Engine) tryEndpoint(ctx context.Context, baseURL, accessToken string, payload []byte) (<-chan StreamChunk, error) {
	endpointURL := fmt.Sprintf("%s/%s:streamGenerateContent?alt=sse", baseURL, antigravity.APIVersion)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("executor: create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("User-Agent", antigravity.APIUserAgent)
	httpReq.Header.Set("X-Goog-Api-Client", antigravity.APIClient)
	httpReq.Header.Set("Client-Metadata", antigravity.ClientMetadata)

	resp, errDo := e.httpClient.Do(httpReq)
	if errDo != nil {
		return nil, errDo
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		drainAndClose(resp.Body)
		return nil, statusErr{code: resp.StatusCode, msg: "rate limited", retryAfter: retryAfter}
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		drainAndClose(resp.Body)
		return nil, statusErr{code: resp.StatusCode, msg: strings.TrimSpace(string(bodyBytes))}
	}

	ch := make(chan StreamChunk, 16)
	go e.consumeStream(ctx, resp.Body, ch)
	return ch, nil
}

// consumeStream reads SSE lines until EOF, unwraps each data event and emits
// normalized chunks. Malformed events are skipped; only the event that failed
// to parse is lost.
func (e *Engine) consumeStream(ctx context.Context, body io.ReadCloser, ch chan<- StreamChunk) {
	defer close(ch)
	defer func() {
		if errClose := body.Close(); errClose != nil {
			log.Errorf("executor: close response body error: %v", errClose)
		}
	}()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 1024*1024), streamScannerBuffer)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(line[len("data:"):])
		if data == "" {
			continue
		}

		root := gjson.Parse(data)
		if !root.IsObject() {
			log.Debugf("executor: skipping malformed SSE event: %q", data)
			continue
		}
		event := root.Get("response")
		if !event.Exists() {
			event = root
		}

		chunk := StreamChunk{
			Text:         event.Get("candidates.0.content.parts.0.text").String(),
			FinishReason: event.Get("candidates.0.finishReason").String(),
		}
		if chunk.Text == "" && chunk.FinishReason == "" {
			continue
		}
		if chunk.FinishReason != "" {
			log.Debugf("executor: stream finish reason: %s", chunk.FinishReason)
		}
		select {
		case ch <- chunk:
		case <-ctx.Done():
			return
		}
	}
	if errScan := scanner.Err(); errScan != nil {
		// The attempt is committed; deliver the fault in-band and end the
		// stream instead of retrying.
		log.Warnf("executor: stream read error: %v", errScan)
		select {
		case ch <- StreamChunk{Err: errScan}:
		case <-ctx.Done():
		}
	}
}

// parseRetryAfter interprets the Retry-After header as integer seconds,
// defaulting to one second when absent or unparseable. The value is recorded
// for diagnostics only; rotation does not wait it out.
func parseRetryAfter(value string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || seconds < 0 {
		return defaultRetryAfter
	}
	return time.Duration(seconds) * time.Second
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 1<<20))
	if errClose := body.Close(); errClose != nil {
		log.Errorf("executor: close response body error: %v", errClose)
	}
}
