package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/projectmitra/mitra-assist/internal/metrics"
	"github.com/projectmitra/mitra-assist/internal/normalize"
	"github.com/projectmitra/mitra-assist/internal/provider"
)

var testCreds = provider.Credentials{APIKey: "test-key"}

// scriptedClient returns a pre-set outcome per model and records the order
// in which models were attempted.
type scriptedClient struct {
	mu       sync.Mutex
	outcomes map[string]provider.Outcome
	calls    []string
}

func (s *scriptedClient) Attempt(_ context.Context, model string, _ *provider.Request, creds provider.Credentials) provider.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, model)
	if out, ok := s.outcomes[model]; ok {
		return out
	}
	return provider.Failed(model, provider.NetworkError, 0, errors.New("unscripted"))
}

func models(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("model-%d", i)
	}
	return out
}

func TestRoute_FirstSuccessShortCircuits(t *testing.T) {
	const n = 5
	list := models(n)

	// For every position k, make k the first success (later models would
	// also succeed) and check nothing after k is called.
	for k := 0; k < n; k++ {
		t.Run(list[k], func(t *testing.T) {
			client := &scriptedClient{outcomes: map[string]provider.Outcome{}}
			for i, m := range list {
				if i < k {
					client.outcomes[m] = provider.Failed(m, provider.HTTPError, 503, nil)
				} else {
					client.outcomes[m] = provider.Success(m, "answer from "+m)
				}
			}

			r := New(Config{Models: list, Credentials: testCreds}, client)
			got, err := r.Route(context.Background(), &provider.Request{Prompt: "p", Kind: provider.TaskChat})
			require.NoError(t, err)

			assert.Equal(t, list[:k+1], client.calls)
			assert.Equal(t, normalize.KindPlainText, got.Kind)
			assert.Equal(t, "answer from "+list[k], got.Text)
			assert.Equal(t, list[k], got.Model)
		})
	}
}

func TestRoute_AllFailed(t *testing.T) {
	list := models(3)
	client := &scriptedClient{outcomes: map[string]provider.Outcome{
		list[0]: provider.Failed(list[0], provider.HTTPError, 429, nil),
		list[1]: provider.Failed(list[1], provider.NetworkError, 0, errors.New("connection reset")),
		list[2]: provider.Failed(list[2], provider.EmptyBody, 0, nil),
	}}

	r := New(Config{Models: list, Credentials: testCreds}, client)
	got, err := r.Route(context.Background(), &provider.Request{Prompt: "p", Kind: provider.TaskCodeGen})
	require.NoError(t, err)

	assert.True(t, got.Failed())
	assert.Equal(t, normalize.AllFailed(), got, "no detail leaks into the result")
	assert.Equal(t, list, client.calls)
}

func TestRoute_SuccessAfterFailuresIsNotAllFailed(t *testing.T) {
	list := models(3)
	client := &scriptedClient{outcomes: map[string]provider.Outcome{
		list[0]: provider.Failed(list[0], provider.HTTPError, 500, nil),
		list[1]: provider.Failed(list[1], provider.EmptyBody, 0, nil),
		list[2]: provider.Success(list[2], `{"ideas":["A","B"]}`),
	}}

	r := New(Config{Models: list, Credentials: testCreds}, client)
	got, err := r.Route(context.Background(), &provider.Request{Prompt: "p", Kind: provider.TaskChat})
	require.NoError(t, err)

	assert.Equal(t, normalize.Result{Kind: normalize.KindIdeas, Ideas: []string{"A", "B"}, Model: list[2]}, got)
}

func TestRoute_EmptyModelList(t *testing.T) {
	client := &scriptedClient{}
	r := New(Config{Credentials: testCreds}, client)

	got, err := r.Route(context.Background(), &provider.Request{Prompt: "p"})
	require.NoError(t, err)

	assert.True(t, got.Failed())
	assert.Empty(t, client.calls)
}

func TestRoute_MissingCredentials(t *testing.T) {
	client := &scriptedClient{}
	r := New(Config{Models: models(3)}, client)

	got, err := r.Route(context.Background(), &provider.Request{Prompt: "p"})
	require.ErrorIs(t, err, ErrMissingCredentials)

	assert.True(t, got.Failed())
	assert.Empty(t, client.calls)
}

func TestRoute_Deterministic(t *testing.T) {
	list := models(4)
	outcomes := map[string]provider.Outcome{
		list[0]: provider.Failed(list[0], provider.HTTPError, 429, nil),
		list[1]: provider.Success(list[1], "Intro\n```go\nx := 1\n```"),
		list[2]: provider.Success(list[2], "other"),
	}

	var results []normalize.Result
	for i := 0; i < 3; i++ {
		client := &scriptedClient{outcomes: outcomes}
		r := New(Config{Models: list, Credentials: testCreds}, client)
		got, err := r.Route(context.Background(), &provider.Request{Prompt: "p", Kind: provider.TaskCodeGen})
		require.NoError(t, err)
		assert.Equal(t, list[:2], client.calls)
		results = append(results, got)
	}

	want := normalize.Result{Kind: normalize.KindCodeAnswer, Explanation: "Intro", Code: "x := 1", Model: list[1]}
	for _, got := range results {
		assert.Equal(t, want, got)
	}
}

func TestRoute_DuplicateModelsAreRetried(t *testing.T) {
	client := &scriptedClient{outcomes: map[string]provider.Outcome{
		"m": provider.Failed("m", provider.HTTPError, 502, nil),
	}}
	r := New(Config{Models: []string{"m", "m"}, Credentials: testCreds}, client)

	got, err := r.Route(context.Background(), &provider.Request{Prompt: "p"})
	require.NoError(t, err)
	assert.True(t, got.Failed())
	assert.Equal(t, []string{"m", "m"}, client.calls)
}

func TestNew_CopiesModels(t *testing.T) {
	list := models(2)
	r := New(Config{Models: list, Credentials: testCreds}, &scriptedClient{})

	list[0] = "changed"
	assert.Equal(t, "model-0", r.Models()[0])

	r.Models()[1] = "changed"
	assert.Equal(t, "model-1", r.Models()[1])
}

// TestRoute_EndToEnd drives the real provider client against a fake
// upstream: four models are rate limited, the fifth answers.
func TestRoute_EndToEnd(t *testing.T) {
	list := models(5)

	var (
		mu    sync.Mutex
		calls int
	)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()

		if n <= 4 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"choices":[{"message":{"content":"hello"}}]}`)
	}))
	defer upstream.Close()

	client := provider.NewClient(provider.ClientConfig{
		BaseURL: upstream.URL,
		Origins: provider.NewOrigins(nil, "http://localhost:3000"),
	}, upstream.Client(), zerolog.Nop())

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	r := New(Config{Models: list, Credentials: testCreds}, client, WithMetrics(m))
	got, err := r.Route(context.Background(), &provider.Request{Prompt: "hi", Kind: provider.TaskChat})
	require.NoError(t, err)

	assert.Equal(t, normalize.Result{Kind: normalize.KindPlainText, Text: "hello", Model: list[4]}, got)
	mu.Lock()
	assert.Equal(t, 5, calls)
	mu.Unlock()

	for _, model := range list[:4] {
		assert.Equal(t, 1.0, testutil.ToFloat64(m.UpstreamAttempts.WithLabelValues(model, "http_error")))
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UpstreamAttempts.WithLabelValues(list[4], "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Routes.WithLabelValues("chat", "text")))
}

func TestRoute_Spans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer tp.Shutdown(context.Background())

	list := models(3)
	client := &scriptedClient{outcomes: map[string]provider.Outcome{
		list[0]: provider.Failed(list[0], provider.HTTPError, 429, nil),
		list[1]: provider.Success(list[1], "ok"),
	}}

	r := New(Config{Models: list, Credentials: testCreds}, client, WithTracer(tp.Tracer("test")))
	_, err := r.Route(context.Background(), &provider.Request{Prompt: "p"})
	require.NoError(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 3, "one span per attempt plus the route span")

	var root sdktrace.ReadOnlySpan
	attempts := 0
	for _, s := range spans {
		switch s.Name() {
		case "router.Route":
			root = s
		case "provider.Attempt":
			attempts++
		}
	}
	require.NotNil(t, root)
	assert.Equal(t, 2, attempts)
	for _, s := range spans {
		if s.Name() == "provider.Attempt" {
			assert.Equal(t, root.SpanContext().SpanID(), s.Parent().SpanID())
		}
	}
}

func TestRoute_ConcurrentRequestsAreIndependent(t *testing.T) {
	list := models(3)
	client := &scriptedClient{outcomes: map[string]provider.Outcome{
		list[0]: provider.Failed(list[0], provider.HTTPError, 429, nil),
		list[1]: provider.Success(list[1], "ok"),
	}}
	r := New(Config{Models: list, Credentials: testCreds}, client)

	const workers = 20
	var wg sync.WaitGroup
	results := make([]normalize.Result, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = r.Route(context.Background(), &provider.Request{Prompt: "p"})
		}(i)
	}
	wg.Wait()

	for _, got := range results {
		assert.Equal(t, list[1], got.Model)
	}
	assert.Len(t, client.calls, 2*workers)
}
