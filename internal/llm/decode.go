package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// Validator is implemented by output shapes with invariants beyond what the
// JSON schema can say.
type Validator interface {
	Validate() error
}

// DecodeStructured decodes the structured part of resp into v, rejecting
// unknown fields, and validates it when v implements Validator. Any failure
// is a *ShapeError.
func DecodeStructured(resp Response, v any) error {
	if len(resp.Structured) == 0 {
		return &ShapeError{Raw: resp.Text, Err: ErrNoStructuredOutput}
	}
	dec := json.NewDecoder(bytes.NewReader(resp.Structured))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &ShapeError{Raw: string(resp.Structured), Err: fmt.Errorf("decode: %w", err)}
	}
	if val, ok := v.(Validator); ok {
		if err := val.Validate(); err != nil {
			return &ShapeError{Raw: string(resp.Structured), Err: fmt.Errorf("validate: %w", err)}
		}
	}
	return nil
}

// Invoke runs a single structured call whose answer decodes into T.
func Invoke[T any](ctx context.Context, inv *Invoker, build func() Request) (T, error) {
	var out T
	_, err := inv.Do(ctx, Call{
		Build: build,
		Accept: func(resp Response) error {
			var v T
			if err := DecodeStructured(resp, &v); err != nil {
				return err
			}
			out = v
			return nil
		},
	})
	return out, err
}
