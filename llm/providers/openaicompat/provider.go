package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/genflow/internal/ctxkeys"
	"github.com/BaSui01/genflow/internal/httpclient"
	"github.com/BaSui01/genflow/llm"
	"github.com/BaSui01/genflow/llm/cache"
	"github.com/BaSui01/genflow/llm/middleware"
	"github.com/BaSui01/genflow/llm/observability"
	"github.com/BaSui01/genflow/llm/pipeline"
	"github.com/BaSui01/genflow/llm/providers"
	"github.com/BaSui01/genflow/llm/schema"
	"github.com/BaSui01/genflow/llm/streaming"
	"github.com/BaSui01/genflow/llm/tokenizer"
	"github.com/BaSui01/genflow/types"
)

// Config holds the configuration for an OpenAI-compatible provider.
type Config struct {
	providers.BaseProviderConfig `yaml:",inline"`

	// ProviderName is the unique identifier for this provider (e.g., "deepseek", "qwen").
	ProviderName string `yaml:"name" env:"NAME"`

	// FallbackModel is used when both request and Model are empty.
	FallbackModel string `yaml:"fallback_model" env:"FALLBACK_MODEL"`

	// EmbeddingModel is used by Embed when the request names no model.
	EmbeddingModel string `yaml:"embedding_model" env:"EMBEDDING_MODEL"`

	// Endpoint paths. Default to the OpenAI ones.
	EndpointPath   string `yaml:"endpoint_path" env:"ENDPOINT_PATH"`
	EmbeddingsPath string `yaml:"embeddings_path" env:"EMBEDDINGS_PATH"`
	ModelsEndpoint string `yaml:"models_endpoint" env:"MODELS_ENDPOINT"`

	// Headers are added to every request.
	Headers map[string]string `yaml:"headers" env:"HEADERS"`

	// EmbedBatchSize bounds the inputs sent in one embeddings request.
	EmbedBatchSize int `yaml:"embed_batch_size" env:"EMBED_BATCH_SIZE"`

	// EmbedConcurrency bounds the batches in flight for one EmbedBatch call.
	EmbedConcurrency int `yaml:"embed_concurrency" env:"EMBED_CONCURRENCY"`

	HTTP httpclient.Config `yaml:"http" env:"HTTP"`
}

// Provider talks to an OpenAI-compatible chat completions API. Every
// upstream call goes through the pipeline executor.
type Provider struct {
	cfg       Config
	client    *http.Client
	exec      *pipeline.Executor
	rewriters *middleware.RewriterChain
	logger    *zap.Logger
}

// Option configures a Provider.
type Option func(*Provider)

// WithHTTPClient replaces the client built from Config.HTTP.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithRewriters replaces the default request rewriter chain.
func WithRewriters(c *middleware.RewriterChain) Option {
	return func(p *Provider) { p.rewriters = c }
}

// New creates a new OpenAI-compatible provider. exec may be shared between
// providers; nil builds one from pipeline.DefaultConfig.
func New(cfg Config, exec *pipeline.Executor, logger *zap.Logger, opts ...Option) *Provider {
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if cfg.EmbeddingsPath == "" {
		cfg.EmbeddingsPath = "/v1/embeddings"
	}
	if cfg.ModelsEndpoint == "" {
		cfg.ModelsEndpoint = "/v1/models"
	}
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = 64
	}
	if cfg.EmbedConcurrency <= 0 {
		cfg.EmbedConcurrency = 4
	}
	if cfg.Timeout > 0 && cfg.HTTP.ResponseHeaderTimeout == 0 {
		cfg.HTTP.ResponseHeaderTimeout = cfg.Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if exec == nil {
		exec = pipeline.NewExecutor(pipeline.DefaultConfig(), pipeline.WithLogger(logger))
	}

	p := &Provider{
		cfg:       cfg,
		exec:      exec,
		rewriters: middleware.DefaultChain(),
		logger:    logger.With(zap.String("component", "provider"), zap.String("provider", cfg.ProviderName)),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.client == nil {
		p.client = httpclient.New(cfg.HTTP)
	}
	return p
}

// Name returns the provider name.
func (p *Provider) Name() string { return p.cfg.ProviderName }

// Config returns the effective configuration.
func (p *Provider) Config() Config { return p.cfg }

// Executor returns the pipeline every call goes through.
func (p *Provider) Executor() *pipeline.Executor { return p.exec }

func (p *Provider) endpoint(path string) string {
	return strings.TrimRight(p.cfg.BaseURL, "/") + path
}

// apiKey prefers a per-request override from ctx.
func (p *Provider) apiKey(ctx context.Context) string {
	if k, ok := llm.APIKeyFromContext(ctx); ok {
		return strings.TrimSpace(k)
	}
	return p.cfg.APIKey
}

func (p *Provider) buildHeaders(ctx context.Context, req *http.Request, stream bool) {
	if key := p.apiKey(ctx); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	if req.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	} else {
		req.Header.Set("Accept", "application/json")
	}
	if id, ok := ctxkeys.CallID(ctx); ok {
		req.Header.Set("X-Request-ID", id)
	}
	for k, v := range p.cfg.Headers {
		req.Header.Set(k, v)
	}
}

// send performs one HTTP attempt and returns the body of a 2xx response.
// Error responses are mapped to *types.Error with Retry-After applied.
func (p *Provider) send(ctx context.Context, method, path string, payload []byte, stream bool) (io.ReadCloser, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, p.endpoint(path), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	p.buildHeaders(ctx, httpReq, stream)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, providers.TransportError(ctx, err, p.Name())
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer providers.SafeCloseBody(resp.Body)
		return nil, providers.ErrorFromResponse(resp, p.Name())
	}
	return resp.Body, nil
}

// decodeJSON reads a whole response body. A body cut short is retryable;
// a malformed one is not.
func (p *Provider) decodeJSON(ctx context.Context, body io.ReadCloser, v any) error {
	defer providers.SafeCloseBody(body)
	err := json.NewDecoder(body).Decode(v)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.ErrUnexpectedEOF), ctx.Err() != nil:
		return providers.TransportError(ctx, err, p.Name())
	default:
		return types.NewDecodeError("decode upstream response", err)
	}
}

// prepare rewrites the request and tags ctx for observability.
func (p *Provider) prepare(ctx context.Context, req *llm.ChatRequest) (context.Context, *llm.ChatRequest, string, error) {
	if req == nil {
		return ctx, nil, "", types.NewError(types.ErrInvalidRequest, "nil request")
	}
	req, err := p.rewriters.Execute(ctx, req)
	if err != nil {
		return ctx, nil, "", err
	}
	model := providers.ChooseModel(req, p.cfg.Model, p.cfg.FallbackModel)

	ctx = ctxkeys.WithProvider(ctx, p.Name())
	ctx = ctxkeys.WithLLMModel(ctx, model)
	if req.TraceID != "" {
		ctx = ctxkeys.WithTraceID(ctx, req.TraceID)
	}
	ctx, _ = ctxkeys.EnsureCallID(ctx)
	return ctx, req, model, nil
}

// =============================================================================
// Chat
// =============================================================================

// Completion performs a non-streaming chat completion. Cacheable requests
// are served from the executor's response cache when it has one.
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	ctx, req, model, err := p.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(providers.BuildChatRequest(req, model, false))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var key string
	if c := p.exec.Cache(); c != nil && cache.IsCacheable(req) {
		keyed := *req
		keyed.Model = model
		key = c.KeyFor(&keyed)
	}

	start := time.Now()
	var attempts int
	resp, hit, err := pipeline.Cached(ctx, p.exec, "chat", key, func(ctx context.Context) (*llm.ChatResponse, error) {
		attempts = ctxkeys.Attempt(ctx)
		body, err := p.send(ctx, http.MethodPost, p.cfg.EndpointPath, payload, false)
		if err != nil {
			return nil, err
		}
		var oa providers.OpenAICompatResponse
		if err := p.decodeJSON(ctx, body, &oa); err != nil {
			return nil, err
		}
		return providers.ToLLMChatResponse(oa, p.Name()), nil
	})

	usage := pipeline.Usage{
		Operation: "chat",
		Provider:  p.Name(),
		Model:     model,
		TenantID:  req.TenantID,
		Cached:    hit,
		Attempts:  attempts,
		Latency:   time.Since(start),
		Err:       err,
	}
	if err != nil {
		p.exec.RecordUsage(ctx, usage)
		return nil, err
	}

	if resp.Model == "" {
		resp.Model = model
	}
	resp.Cached = hit
	if resp.Usage.PromptTokens == 0 && resp.Usage.CompletionTokens == 0 {
		resp.Usage.PromptTokens, resp.Usage.CompletionTokens = observability.EstimateTokens(model, promptOf(req), resp.FirstContent())
		resp.Usage.TotalTokens = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
		resp.Usage.Estimated = true
	}
	usage.PromptTokens = resp.Usage.PromptTokens
	usage.CompletionTokens = resp.Usage.CompletionTokens
	usage.Estimated = resp.Usage.Estimated
	resp.Usage.Cost = p.exec.RecordUsage(ctx, usage)
	return resp, nil
}

// Stream performs a streaming chat completion via SSE. Frames that do not
// decode into a chunk are skipped; the stream ends at "[DONE]".
func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest) (*streaming.Queue[llm.StreamChunk], error) {
	ctx, req, model, err := p.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(providers.BuildChatRequest(req, model, true))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	acc := &streamAccumulator{}
	chunks := schema.Func[llm.StreamChunk](func(raw json.RawMessage) (llm.StreamChunk, error) {
		var oa providers.OpenAICompatResponse
		if err := json.Unmarshal(raw, &oa); err != nil {
			return llm.StreamChunk{}, types.NewValidationError("decode stream chunk", err)
		}
		chunk, ok := providers.ToStreamChunk(oa, p.Name())
		if !ok {
			return llm.StreamChunk{}, types.NewValidationError("stream chunk has neither choices nor usage", nil)
		}
		acc.add(chunk)
		return chunk, nil
	})

	start := time.Now()
	var attempts int
	open := func(ctx context.Context) (io.ReadCloser, error) {
		attempts = ctxkeys.Attempt(ctx)
		return p.send(ctx, http.MethodPost, p.cfg.EndpointPath, payload, true)
	}

	usage := pipeline.Usage{
		Operation: "chat.stream",
		Provider:  p.Name(),
		Model:     model,
		TenantID:  req.TenantID,
	}
	q, err := pipeline.Stream(ctx, p.exec, "chat.stream", open, chunks)
	if err != nil {
		usage.Attempts, usage.Latency, usage.Err = attempts, time.Since(start), err
		p.exec.RecordUsage(ctx, usage)
		return nil, err
	}

	go func() {
		<-q.Done()
		usage.Attempts, usage.Latency, usage.Err = attempts, time.Since(start), q.Err()
		usage.PromptTokens, usage.CompletionTokens, usage.Estimated = acc.tokens(model, promptOf(req))
		p.exec.RecordUsage(ctx, usage)
	}()
	return q, nil
}

// streamAccumulator keeps what usage accounting needs from a stream.
type streamAccumulator struct {
	mu      sync.Mutex
	content strings.Builder
	usage   *llm.ChatUsage
}

func (a *streamAccumulator) add(chunk llm.StreamChunk) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.content.WriteString(chunk.Delta.Content)
	if chunk.Usage != nil {
		a.usage = chunk.Usage
	}
}

// tokens returns upstream usage when the stream carried it, otherwise a
// local estimate over the prompt and the content received so far.
func (a *streamAccumulator) tokens(model string, prompt []tokenizer.Message) (promptTokens, completionTokens int, estimated bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.usage != nil {
		return a.usage.PromptTokens, a.usage.CompletionTokens, false
	}
	promptTokens, completionTokens = observability.EstimateTokens(model, prompt, a.content.String())
	return promptTokens, completionTokens, true
}

func promptOf(req *llm.ChatRequest) []tokenizer.Message {
	out := make([]tokenizer.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		out = append(out, tokenizer.Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}

// =============================================================================
// Embeddings
// =============================================================================

// Embed sends one embeddings request.
func (p *Provider) Embed(ctx context.Context, req *llm.EmbeddingRequest) (*llm.EmbeddingResponse, error) {
	if req == nil || len(req.Input) == 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "embedding request has no input")
	}
	model := req.Model
	if model == "" {
		model = p.cfg.EmbeddingModel
	}
	ctx = ctxkeys.WithProvider(ctx, p.Name())
	ctx = ctxkeys.WithLLMModel(ctx, model)

	payload, err := json.Marshal(providers.OpenAICompatEmbeddingRequest{
		Model:      model,
		Input:      req.Input,
		Dimensions: req.Dimensions,
		User:       req.User,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	start := time.Now()
	var attempts int
	oa, err := pipeline.Call(ctx, p.exec, "embed", func(ctx context.Context) (*providers.OpenAICompatEmbeddingResponse, error) {
		attempts = ctxkeys.Attempt(ctx)
		body, err := p.send(ctx, http.MethodPost, p.cfg.EmbeddingsPath, payload, false)
		if err != nil {
			return nil, err
		}
		var out providers.OpenAICompatEmbeddingResponse
		if err := p.decodeJSON(ctx, body, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})

	usage := pipeline.Usage{
		Operation: "embed",
		Provider:  p.Name(),
		Model:     model,
		Attempts:  attempts,
		Latency:   time.Since(start),
		Err:       err,
	}
	if err != nil {
		p.exec.RecordUsage(ctx, usage)
		return nil, err
	}

	resp := &llm.EmbeddingResponse{
		Provider:   p.Name(),
		Model:      oa.Model,
		Embeddings: make([]llm.Embedding, 0, len(oa.Data)),
	}
	if resp.Model == "" {
		resp.Model = model
	}
	for _, d := range oa.Data {
		resp.Embeddings = append(resp.Embeddings, llm.Embedding{Index: d.Index, Embedding: d.Embedding})
	}
	if oa.Usage != nil {
		resp.Usage.PromptTokens = oa.Usage.PromptTokens
		resp.Usage.TotalTokens = oa.Usage.TotalTokens
	} else {
		for _, in := range req.Input {
			resp.Usage.PromptTokens += tokenizer.Count(model, in)
		}
		resp.Usage.TotalTokens = resp.Usage.PromptTokens
		resp.Usage.Estimated = true
	}
	usage.PromptTokens = resp.Usage.PromptTokens
	usage.Estimated = resp.Usage.Estimated
	resp.Usage.Cost = p.exec.RecordUsage(ctx, usage)
	return resp, nil
}

// EmbedBatch splits input into EmbedBatchSize chunks and embeds them with at
// most EmbedConcurrency requests in flight. Embeddings come back in input
// order; the first failure cancels the remaining batches.
func (p *Provider) EmbedBatch(ctx context.Context, req *llm.EmbeddingRequest) (*llm.EmbeddingResponse, error) {
	if req == nil || len(req.Input) == 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "embedding request has no input")
	}
	size := p.cfg.EmbedBatchSize
	if len(req.Input) <= size {
		return p.Embed(ctx, req)
	}

	batches := (len(req.Input) + size - 1) / size
	parts := make([]*llm.EmbeddingResponse, batches)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.EmbedConcurrency)
	for i := range batches {
		lo, hi := i*size, min((i+1)*size, len(req.Input))
		sub := *req
		sub.Input = req.Input[lo:hi]
		g.Go(func() error {
			resp, err := p.Embed(gctx, &sub)
			if err != nil {
				return err
			}
			parts[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &llm.EmbeddingResponse{Provider: p.Name(), Model: parts[0].Model}
	for i, part := range parts {
		for _, e := range part.Embeddings {
			e.Index += i * size
			out.Embeddings = append(out.Embeddings, e)
		}
		out.Usage.PromptTokens += part.Usage.PromptTokens
		out.Usage.TotalTokens += part.Usage.TotalTokens
		out.Usage.Cost += part.Usage.Cost
		out.Usage.Estimated = out.Usage.Estimated || part.Usage.Estimated
	}
	return out, nil
}

// =============================================================================
// Health
// =============================================================================

// HealthCheck lists models once, outside the retry pipeline.
func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	body, err := p.send(ctx, http.MethodGet, p.cfg.ModelsEndpoint, nil, false)
	latency := time.Since(start)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: latency, Message: err.Error()}, err
	}
	providers.SafeCloseBody(body)
	return &llm.HealthStatus{Healthy: true, Latency: latency}, nil
}

var (
	_ llm.Provider = (*Provider)(nil)
	_ llm.Embedder = (*Provider)(nil)
)
