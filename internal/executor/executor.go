package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	xlog "github.com/opencopilot/copilot/internal/log"
	"github.com/opencopilot/copilot/internal/lossy"
	"github.com/opencopilot/copilot/internal/metrics"
	"github.com/opencopilot/copilot/internal/swagger"
	"github.com/opencopilot/copilot/internal/synth"
)

const (
	DefaultTimeout     = 30 * time.Second
	maxResponseBytes   = 1 << 20
	maxCallTextBytes   = 4 << 10
	defaultMaxElements = lossy.DefaultMaxElements
)

// Synthesizer builds request inputs and the final answer.
type Synthesizer interface {
	Both(ctx context.Context, body, params *synth.Input) synth.Result
	Summarize(ctx context.Context, in synth.SummaryInput) (string, error)
}

// Request is one execution: the selected ids plus the evidence they came from.
type Request struct {
	Text      string
	BotID     string
	App       string
	BaseURL   string
	Headers   map[string]string
	IDs       []string
	Summaries []json.RawMessage
	Flows     []json.RawMessage
	Endpoints []swagger.Endpoint
}

// Call records one upstream request. Err is set instead of Response when
// the call could not be made or did not succeed.
type Call struct {
	OperationID string          `json:"operation_id"`
	Method      string          `json:"method"`
	URL         string          `json:"url"`
	Params      map[string]any  `json:"params,omitempty"`
	Body        any             `json:"body,omitempty"`
	Status      int             `json:"status,omitempty"`
	Response    json.RawMessage `json:"response,omitempty"`
	Err         string          `json:"error,omitempty"`
}

type Result struct {
	Calls  []Call
	Answer string
}

type Executor struct {
	synth       Synthesizer
	client      *http.Client
	maxElements int
	logger      zerolog.Logger
}

type Option func(*Executor)

func WithHTTPClient(c *http.Client) Option { return func(e *Executor) { e.client = c } }

func WithLogger(l zerolog.Logger) Option { return func(e *Executor) { e.logger = l } }

// WithMaxElements sets the per-array cap applied to responses.
func WithMaxElements(n int) Option { return func(e *Executor) { e.maxElements = n } }

func New(s Synthesizer, opts ...Option) *Executor {
	e := &Executor{
		synth:       s,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxElements: defaultMaxElements,
		logger:      xlog.WithComponent("executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run calls every resolved operation in order, feeding earlier responses
// to later synthesis, then summarizes. A request resolving to no
// operations returns an empty Result. Call failures are recorded and do
// not stop the run; only a failed summary is returned as an error.
func (e *Executor) Run(ctx context.Context, req Request) (Result, error) {
	ops := Resolve(req.IDs, req.Summaries, req.Flows, req.Endpoints)
	if len(ops) == 0 || req.BaseURL == "" {
		return Result{}, nil
	}

	ctx, span := otel.Tracer("copilot/executor").Start(ctx, "executor.run")
	defer span.End()
	span.SetAttributes(attribute.String("bot.id", req.BotID), attribute.Int("operations", len(ops)))

	calls := make([]Call, 0, len(ops))
	for _, op := range ops {
		calls = append(calls, e.call(ctx, req, op, calls))
	}

	answer, err := e.synth.Summarize(ctx, synth.SummaryInput{
		UserInput:   req.Text,
		APIResponse: responsesText(calls),
		RequestData: requestDataText(calls),
		BotID:       req.BotID,
	})
	if err != nil {
		return Result{Calls: calls}, err
	}
	return Result{Calls: calls, Answer: answer}, nil
}

func (e *Executor) call(ctx context.Context, req Request, op swagger.Endpoint, prev []Call) Call {
	c := Call{OperationID: op.OperationID, Method: strings.ToUpper(op.Method)}
	log := e.logger.With().Str(xlog.FieldBotID, req.BotID).Str(xlog.FieldOperation, op.OperationID).Logger()

	var bodyIn, paramsIn *synth.Input
	base := synth.Input{Text: req.Text, PrevResponses: responsesText(prev), App: req.App}
	if op.HasBody() {
		in := base
		in.Schema = op.BodySchema()
		bodyIn = &in
	}
	if len(op.Parameters) > 0 {
		in := base
		in.Schema = op.ParamsSchema()
		paramsIn = &in
	}
	gen := e.synth.Both(ctx, bodyIn, paramsIn)
	if err := gen.Err(); err != nil {
		log.Warn().Err(err).Msg("request synthesis failed")
	}
	if m, ok := gen.Params.(map[string]any); ok && gen.HasParams {
		c.Params = m
	}
	if gen.HasBody {
		c.Body = gen.Body
	}

	httpReq, err := buildRequest(ctx, req.BaseURL, op, c.Params, c.Body, req.Headers)
	if err != nil {
		c.Err = err.Error()
		metrics.ExecutorCalls.WithLabelValues(c.Method, "error").Inc()
		return c
	}
	c.URL = httpReq.URL.String()

	start := time.Now()
	resp, err := e.client.Do(httpReq)
	if err != nil {
		c.Err = fmt.Sprintf("request failed: %v", err)
		metrics.ExecutorCalls.WithLabelValues(c.Method, "error").Inc()
		log.Warn().Err(err).Msg("api call failed")
		return c
	}
	defer func() { _ = resp.Body.Close() }()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	c.Status = resp.StatusCode

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.Err = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, clip(string(bytes.TrimSpace(data))))
		metrics.ExecutorCalls.WithLabelValues(c.Method, "http_error").Inc()
		log.Warn().Int(xlog.FieldStatus, resp.StatusCode).Msg("api call returned error status")
		return c
	}

	c.Response = e.shrink(data)
	metrics.ExecutorCalls.WithLabelValues(c.Method, "ok").Inc()
	log.Debug().Int(xlog.FieldStatus, resp.StatusCode).Dur(xlog.FieldDuration, time.Since(start)).Msg("api call done")
	return c
}

// shrink bounds a response body. JSON is truncated per array; anything
// else is kept as a clipped string.
func (e *Executor) shrink(data []byte) json.RawMessage {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if out, err := lossy.TruncateJSON(data, e.maxElements); err == nil {
		return out
	}
	s, _ := json.Marshal(clip(string(data)))
	return s
}

func buildRequest(ctx context.Context, baseURL string, op swagger.Endpoint, params map[string]any, body any, headers map[string]string) (*http.Request, error) {
	path := op.Path
	query := url.Values{}
	headerParams := map[string]string{}
	locations := make(map[string]string, len(op.Parameters))
	for _, p := range op.Parameters {
		locations[p.Name] = p.In
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := paramString(params[k])
		placeholder := "{" + k + "}"
		switch {
		case locations[k] == "path" || strings.Contains(path, placeholder):
			path = strings.ReplaceAll(path, placeholder, url.PathEscape(v))
		case locations[k] == "header":
			headerParams[k] = v
		case locations[k] == "cookie":
		default:
			query.Set(k, v)
		}
	}
	if strings.Contains(path, "{") {
		return nil, fmt.Errorf("unresolved path parameters in %s", path)
	}

	u := strings.TrimRight(baseURL, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rdr io.Reader
	if body != nil && op.HasBody() {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(op.Method), u, rdr)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	for k, v := range headerParams {
		req.Header.Set(k, v)
	}
	if rdr != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func paramString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

// callKeys names each call by its operation id. Repeated operations get
// "#2", "#3" and so on in call order, so no response is overwritten.
func callKeys(calls []Call) []string {
	keys := make([]string, len(calls))
	seen := make(map[string]int, len(calls))
	for i, c := range calls {
		seen[c.OperationID]++
		keys[i] = c.OperationID
		if n := seen[c.OperationID]; n > 1 {
			keys[i] = fmt.Sprintf("%s#%d", c.OperationID, n)
		}
	}
	return keys
}

// responsesText renders prior responses keyed by callKeys.
func responsesText(calls []Call) string {
	if len(calls) == 0 {
		return "{}"
	}
	keys := callKeys(calls)
	m := make(map[string]any, len(calls))
	for i, c := range calls {
		switch {
		case c.Err != "":
			m[keys[i]] = c.Err
		case c.Response != nil:
			m[keys[i]] = c.Response
		default:
			m[keys[i]] = nil
		}
	}
	b, _ := json.Marshal(m)
	return string(b)
}

func requestDataText(calls []Call) string {
	type data struct {
		Params map[string]any `json:"params,omitempty"`
		Body   any            `json:"body,omitempty"`
	}
	keys := callKeys(calls)
	m := make(map[string]data, len(calls))
	for i, c := range calls {
		m[keys[i]] = data{Params: c.Params, Body: c.Body}
	}
	b, _ := json.Marshal(m)
	return string(b)
}

func clip(s string) string {
	if len(s) <= maxCallTextBytes {
		return s
	}
	n := maxCallTextBytes
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
