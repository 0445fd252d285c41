package llm_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbspelunker/internal/llm"
	"dbspelunker/internal/llm/llmtest"
)

type verdict struct {
	Answer string `json:"answer"`
}

func (v verdict) Validate() error {
	if v.Answer == "" {
		return errors.New("answer is empty")
	}
	return nil
}

func noDelay(int) time.Duration { return 0 }

func build() llm.Request {
	return llm.Request{Prompt: "hi", Output: llm.OutputSpec{Name: "verdict"}}
}

func TestInvokeSucceedsAfterTransportFailures(t *testing.T) {
	b := &llmtest.Backend{Default: llmtest.Sequence(
		llmtest.Fail(errors.New("503")),
		llmtest.Fail(errors.New("503")),
		llmtest.Structured(verdict{Answer: "ok"}),
	)}
	inv := llm.NewInvoker(b, llm.WithBackoff(noDelay))

	got, err := llm.Invoke[verdict](context.Background(), inv, build)
	require.NoError(t, err)
	assert.Equal(t, "ok", got.Answer)
	assert.Len(t, b.Calls(), 3)
}

func TestInvokeExhausted(t *testing.T) {
	b := &llmtest.Backend{Default: llmtest.Fail(errors.New("boom"))}
	var delays []int
	inv := llm.NewInvoker(b, llm.WithMaxRetries(3), llm.WithBackoff(func(a int) time.Duration {
		delays = append(delays, a)
		return 0
	}))

	_, err := llm.Invoke[verdict](context.Background(), inv, build)
	require.ErrorIs(t, err, llm.ErrInvocationExhausted)

	var ex *llm.ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 3, ex.Attempts)
	var te *llm.TransportError
	assert.ErrorAs(t, ex.Last, &te)

	assert.Len(t, b.Calls(), 3)
	// no sleep after the final attempt
	assert.Equal(t, []int{0, 1}, delays)
}

func TestInvokeShapeErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler llmtest.Handler
	}{
		{"text only", llmtest.Text("sure, here you go")},
		{"unknown field", llmtest.Structured(map[string]string{"answer": "x", "extra": "y"})},
		{"fails validation", llmtest.Structured(verdict{})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &llmtest.Backend{Default: tt.handler}
			inv := llm.NewInvoker(b, llm.WithMaxRetries(2), llm.WithBackoff(noDelay))

			_, err := llm.Invoke[verdict](context.Background(), inv, build)
			var se *llm.ShapeError
			require.ErrorAs(t, err, &se)
			assert.ErrorIs(t, err, llm.ErrInvocationExhausted)
			assert.Len(t, b.Calls(), 2)
		})
	}
}

func TestDoReportsShapeErrorBeforeRetry(t *testing.T) {
	b := &llmtest.Backend{Default: llmtest.Sequence(
		llmtest.Text("not json"),
		llmtest.Structured(verdict{Answer: "fixed"}),
	)}
	inv := llm.NewInvoker(b, llm.WithBackoff(noDelay))

	var notes []string
	var got verdict
	_, err := inv.Do(context.Background(), llm.Call{
		Build: func() llm.Request {
			r := build()
			r.Prompt += "\n" + joined(notes)
			return r
		},
		Accept: func(resp llm.Response) error { return llm.DecodeStructured(resp, &got) },
		OnShapeError: func(resp llm.Response, se *llm.ShapeError) {
			notes = append(notes, se.Raw)
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "fixed", got.Answer)
	assert.Equal(t, []string{"not json"}, notes)
	assert.Contains(t, b.Calls()[1].Prompt, "not json")
}

func joined(s []string) string {
	out := ""
	for _, v := range s {
		out += v + "\n"
	}
	return out
}

func TestDoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := &llmtest.Backend{Default: func(context.Context, llm.Request) (llm.Response, error) {
		cancel()
		return llm.Response{}, errors.New("aborted")
	}}
	inv := llm.NewInvoker(b, llm.WithBackoff(func(int) time.Duration { return time.Hour }))

	_, err := inv.Do(ctx, llm.Call{Build: build})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, b.Calls(), 1)
}

func TestRateLimitSharedAcrossCalls(t *testing.T) {
	b := &llmtest.Backend{Default: llmtest.Structured(verdict{Answer: "ok"})}
	inv := llm.NewInvoker(b, llm.WithRateLimit(1000, 1))

	for range 3 {
		_, err := llm.Invoke[verdict](context.Background(), inv, build)
		require.NoError(t, err)
	}
	assert.Len(t, b.Calls(), 3)
}

func TestExponentialBackoff(t *testing.T) {
	for attempt, base := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second} {
		d := llm.ExponentialBackoff(attempt)
		assert.GreaterOrEqual(t, d, base)
		assert.Less(t, d, base+time.Second)
	}
}

func TestSchemaFor(t *testing.T) {
	s := llm.SchemaFor(verdict{})
	assert.Empty(t, s.Version)
	_, ok := s.Properties.Get("answer")
	assert.True(t, ok)
}

func TestSchemaForAnonymousStruct(t *testing.T) {
	var s *jsonschema.Schema
	require.NotPanics(t, func() {
		s = llm.SchemaFor(struct {
			SQL string `json:"sql"`
		}{})
	})
	assert.Equal(t, "object", s.Type)
	_, ok := s.Properties.Get("sql")
	assert.True(t, ok)

	// pointers to named types still expand
	_, ok = llm.SchemaFor(&verdict{}).Properties.Get("answer")
	assert.True(t, ok)
}
