// Package invoker routes model requests through live providers or
// recorded stubs and logs every call.
package invoker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/scriptorlab/scriptor/internal/calllog"
	"github.com/scriptorlab/scriptor/internal/providers"
	"github.com/scriptorlab/scriptor/internal/stubs"
)

// Stub modes.
const (
	ModeOff      = "off"
	ModeRecord   = "record"
	ModeReplay   = "replay"
	ModeGenerate = "generate"
	ModeLive     = "live"
)

// Request is one model invocation.
type Request struct {
	SourceID     string
	Phase        stubs.Phase
	Unit         int
	System       string
	User         string
	PromptSHA256 string
	Images       [][]byte
	Model        string
	Temperature  float64
	MaxTokens    int

	// InputText is the text under normalization. Generated
	// normalization stubs echo it back unchanged.
	InputText string
}

// Response is the raw model output plus call metadata.
type Response struct {
	Raw              string
	Provider         string
	Model            string
	Latency          time.Duration
	PromptTokens     int64
	CompletionTokens int64
	CostUSD          float64
	Stub             bool
}

// Invoker executes model requests.
type Invoker interface {
	Invoke(ctx context.Context, req *Request) (*Response, error)
	Mode() string
}

// Options configures New.
type Options struct {
	Client     providers.LLMClient
	Limiter    *providers.RateLimiter
	Stubs      *stubs.Store
	CallLog    *calllog.Store
	StubMode   string
	NoAPI      bool
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	Logger     *slog.Logger
}

// New composes an invoker from options. Stub modes replay and generate
// never touch a provider; record wraps live calls and persists their
// responses. NoAPI forces replay.
func New(opts Options) (Invoker, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	mode := opts.StubMode
	if mode == "" {
		mode = ModeOff
	}
	if opts.NoAPI && (mode == ModeOff || mode == ModeRecord) {
		mode = ModeReplay
	}

	var inv Invoker
	switch mode {
	case ModeReplay, ModeGenerate:
		if opts.Stubs == nil {
			return nil, errors.New("stub mode requires a stub store")
		}
		inv = &StubInvoker{store: opts.Stubs, mode: mode, logger: opts.Logger}
	case ModeOff, ModeRecord:
		if opts.Client == nil {
			return nil, errors.New("live invocation requires a provider client")
		}
		live := &Live{
			client:     opts.Client,
			limiter:    opts.Limiter,
			timeout:    opts.Timeout,
			maxRetries: opts.MaxRetries,
			retryDelay: opts.RetryDelay,
			logger:     opts.Logger,
		}
		if mode == ModeRecord {
			if opts.Stubs == nil {
				return nil, errors.New("record mode requires a stub store")
			}
			inv = &Recorder{next: live, store: opts.Stubs, logger: opts.Logger}
		} else {
			inv = live
		}
	default:
		return nil, fmt.Errorf("unknown stub mode %q", mode)
	}

	if opts.CallLog != nil {
		inv = &Logged{next: inv, log: opts.CallLog, logger: opts.Logger}
	}
	return inv, nil
}

// Live calls a provider with rate limiting, per-call timeouts and
// retries.
type Live struct {
	client     providers.LLMClient
	limiter    *providers.RateLimiter
	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
}

var _ Invoker = (*Live)(nil)

// Mode reports the invocation mode.
func (l *Live) Mode() string { return ModeLive }

// Invoke sends the request to the provider.
func (l *Live) Invoke(ctx context.Context, req *Request) (*Response, error) {
	attempts := uint(l.maxRetries)
	if attempts == 0 {
		attempts = 1
	}
	delay := l.retryDelay
	if delay <= 0 {
		delay = time.Second
	}

	var result *providers.ChatResult
	err := retry.Do(
		func() error {
			if l.limiter != nil {
				if err := l.limiter.Wait(ctx); err != nil {
					return retry.Unrecoverable(err)
				}
			}

			callCtx := ctx
			if l.timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, l.timeout)
				defer cancel()
			}

			r, err := l.client.Chat(callCtx, l.chatRequest(req))
			if err != nil {
				if ctx.Err() != nil {
					return retry.Unrecoverable(err)
				}
				l.logger.Warn("model call failed",
					"source", req.SourceID, "phase", req.Phase, "unit", req.Unit, "error", err)
				return err
			}
			result = r
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("invoking %s for %s unit %d: %w", req.Phase, req.SourceID, req.Unit, err)
	}

	return &Response{
		Raw:              result.Content,
		Provider:         result.Provider,
		Model:            result.ModelUsed,
		Latency:          result.ExecutionTime,
		PromptTokens:     int64(result.PromptTokens),
		CompletionTokens: int64(result.CompletionTokens),
		CostUSD:          result.CostUSD,
	}, nil
}

func (l *Live) chatRequest(req *Request) *providers.ChatRequest {
	messages := []providers.Message{
		{Role: "system", Content: req.System},
		{Role: "user", Content: req.User, Images: req.Images},
	}
	return &providers.ChatRequest{
		Messages:    messages,
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
}

// StubInvoker serves responses from the stub store. In replay mode a
// missing stub falls back to a generated response; generate mode always
// generates. Generated payloads are persisted like recorded ones, so a
// later replay serves the same bytes.
type StubInvoker struct {
	store  *stubs.Store
	mode   string
	logger *slog.Logger
}

var _ Invoker = (*StubInvoker)(nil)

// Mode reports the invocation mode.
func (s *StubInvoker) Mode() string { return s.mode }

// Invoke returns a recorded or generated response.
func (s *StubInvoker) Invoke(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if s.mode == ModeReplay {
		data, err := s.store.Read(req.SourceID, req.Unit, req.Phase)
		if err == nil {
			return &Response{Raw: string(data), Provider: "stub", Model: "stub/replay", Stub: true}, nil
		}
		if !errors.Is(err, stubs.ErrNotFound) {
			return nil, err
		}
		s.logger.Debug("no recorded stub, generating",
			"source", req.SourceID, "phase", req.Phase, "unit", req.Unit)
	}

	var data []byte
	switch req.Phase {
	case stubs.PhaseDiplomatic:
		data = stubs.GenerateDiplomatic(req.SourceID, req.Unit)
	case stubs.PhaseNormalization:
		data = stubs.GenerateNormalization(req.InputText)
	default:
		return nil, fmt.Errorf("unknown phase %q", req.Phase)
	}
	if err := s.store.Write(req.SourceID, req.Unit, req.Phase, data); err != nil {
		s.logger.Warn("persisting generated stub failed",
			"source", req.SourceID, "phase", req.Phase, "unit", req.Unit, "error", err)
	}
	return &Response{Raw: string(data), Provider: "stub", Model: "stub/generate", Stub: true}, nil
}

// Recorder wraps a live invoker and persists successful responses as
// stubs for later replay.
type Recorder struct {
	next   Invoker
	store  *stubs.Store
	logger *slog.Logger
}

var _ Invoker = (*Recorder)(nil)

// Mode reports the invocation mode.
func (r *Recorder) Mode() string { return ModeRecord }

// Invoke delegates and records the response.
func (r *Recorder) Invoke(ctx context.Context, req *Request) (*Response, error) {
	resp, err := r.next.Invoke(ctx, req)
	if err != nil {
		return nil, err
	}
	if werr := r.store.Write(req.SourceID, req.Unit, req.Phase, []byte(resp.Raw)); werr != nil {
		r.logger.Warn("recording stub failed",
			"source", req.SourceID, "phase", req.Phase, "unit", req.Unit, "error", werr)
	}
	return resp, nil
}

// Logged wraps an invoker and writes a call log entry for every
// attempt, successful or not.
type Logged struct {
	next   Invoker
	log    *calllog.Store
	logger *slog.Logger
}

var _ Invoker = (*Logged)(nil)

// Mode reports the invocation mode.
func (l *Logged) Mode() string { return l.next.Mode() }

// Invoke delegates and logs the outcome.
func (l *Logged) Invoke(ctx context.Context, req *Request) (*Response, error) {
	resp, err := l.next.Invoke(ctx, req)

	entry := &calllog.Entry{
		SourceID:     req.SourceID,
		Phase:        string(req.Phase),
		Unit:         req.Unit,
		Mode:         l.next.Mode(),
		PromptSHA256: req.PromptSHA256,
		Model:        req.Model,
	}
	if resp != nil {
		entry.Provider = resp.Provider
		entry.Model = resp.Model
		entry.Latency = resp.Latency
		entry.PromptTokens = resp.PromptTokens
		entry.CompletionTokens = resp.CompletionTokens
		entry.CostUSD = resp.CostUSD
		entry.Stub = resp.Stub
		entry.Success = true
	}
	if err != nil {
		entry.Success = false
		entry.Error = err.Error()
	}

	if logErr := l.log.Record(context.WithoutCancel(ctx), entry); logErr != nil {
		l.logger.Warn("call log write failed", "error", logErr)
	}
	return resp, err
}
