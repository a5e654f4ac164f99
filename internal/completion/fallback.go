package completion

import (
	"context"
	"errors"
	"fmt"
)

// FallbackEngine tries a primary engine first and falls back on error.
// Cancellation and deadline errors are returned as is.
type FallbackEngine struct {
	primary  Engine
	fallback Engine
}

func NewFallbackEngine(primary Engine, fallback Engine) *FallbackEngine {
	return &FallbackEngine{
		primary:  primary,
		fallback: fallback,
	}
}

// Primary returns the preferred engine used before fallback.
func (e *FallbackEngine) Primary() Engine {
	if e == nil {
		return nil
	}
	return e.primary
}

// Secondary returns the fallback engine.
func (e *FallbackEngine) Secondary() Engine {
	if e == nil {
		return nil
	}
	return e.fallback
}

func (e *FallbackEngine) Complete(ctx context.Context, req Request) (Response, error) {
	if e == nil || e.primary == nil {
		if e != nil && e.fallback != nil {
			return e.fallback.Complete(ctx, req)
		}
		return Response{}, fmt.Errorf("fallback engine misconfigured")
	}

	resp, err := e.primary.Complete(ctx, req)
	if err == nil {
		return resp, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Response{}, err
	}
	if e.fallback == nil {
		return Response{}, err
	}

	fallbackResp, fallbackErr := e.fallback.Complete(ctx, req)
	if fallbackErr != nil {
		return Response{}, fmt.Errorf("primary engine error: %w; fallback engine error: %v", err, fallbackErr)
	}
	return fallbackResp, nil
}
