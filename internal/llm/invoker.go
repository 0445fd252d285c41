package llm

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"

	"dbspelunker/internal/logger"
)

const defaultMaxRetries = 3

// Invoker calls a Backend with bounded retries, exponential backoff and an
// optional shared rate limit. It is safe for concurrent use.
type Invoker struct {
	backend    Backend
	maxRetries int
	backoff    func(attempt int) time.Duration
	limiter    *rate.Limiter
}

type Option func(*Invoker)

// WithMaxRetries sets the total number of attempts per call.
func WithMaxRetries(n int) Option {
	return func(i *Invoker) {
		if n > 0 {
			i.maxRetries = n
		}
	}
}

// WithBackoff replaces the delay taken after failed attempt number attempt
// (counting from 0).
func WithBackoff(fn func(attempt int) time.Duration) Option {
	return func(i *Invoker) { i.backoff = fn }
}

// WithRateLimit caps backend calls across every user of the invoker.
// A non-positive perSecond leaves calls unlimited.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(i *Invoker) {
		if perSecond <= 0 {
			i.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		i.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func NewInvoker(b Backend, opts ...Option) *Invoker {
	i := &Invoker{backend: b, maxRetries: defaultMaxRetries, backoff: ExponentialBackoff}
	for _, o := range opts {
		o(i)
	}
	return i
}

// ExponentialBackoff waits 2^attempt seconds plus up to one second of jitter.
func ExponentialBackoff(attempt int) time.Duration {
	secs := math.Pow(2, float64(attempt)) + rand.Float64()
	return time.Duration(secs * float64(time.Second))
}

// Call describes one logical model call. Build is run before every attempt,
// so it sees whatever OnShapeError appended to the caller's state. Accept
// inspects the response; an error from it makes the attempt a shape failure.
type Call struct {
	Build        func() Request
	Accept       func(Response) error
	OnShapeError func(Response, *ShapeError)
}

// Do runs c until Accept succeeds or the attempts run out. Context
// cancellation ends the loop at once with the context's error.
func (i *Invoker) Do(ctx context.Context, c Call) (Response, error) {
	var last error
	for attempt := 0; attempt < i.maxRetries; attempt++ {
		if i.limiter != nil {
			if err := i.limiter.Wait(ctx); err != nil {
				return Response{}, err
			}
		}

		resp, err := i.backend.Generate(ctx, c.Build())
		if err != nil {
			if ctx.Err() != nil {
				return Response{}, ctx.Err()
			}
			last = &TransportError{Err: err}
		} else if err := accept(c, resp); err != nil {
			var se *ShapeError
			if !errors.As(err, &se) {
				se = &ShapeError{Raw: rawOf(resp), Err: err}
			}
			last = se
			if c.OnShapeError != nil {
				c.OnShapeError(resp, se)
			}
		} else {
			return resp, nil
		}

		if attempt+1 >= i.maxRetries {
			break
		}
		delay := i.backoff(attempt)
		logger.Warn("model call attempt %d/%d failed: %v; retrying in %s", attempt+1, i.maxRetries, last, delay.Round(time.Millisecond))
		if err := sleep(ctx, delay); err != nil {
			return Response{}, err
		}
	}
	return Response{}, &ExhaustedError{Attempts: i.maxRetries, Last: last}
}

func accept(c Call, resp Response) error {
	if c.Accept == nil {
		return nil
	}
	return c.Accept(resp)
}

func rawOf(resp Response) string {
	if len(resp.Structured) > 0 {
		return string(resp.Structured)
	}
	return resp.Text
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
