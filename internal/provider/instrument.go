package provider

import (
	"context"
	"errors"

	"github.com/loykin/keepalive/internal/errdefs"
	"github.com/loykin/keepalive/internal/metrics"
)

// Instrument wraps c so every call is counted in keepalive_provider_calls_total.
func Instrument(c Client) Client {
	if _, ok := c.(instrumented); ok {
		return c
	}
	return instrumented{inner: c}
}

type instrumented struct{ inner Client }

func (i instrumented) ListResources(ctx context.Context) ([]ResourceInfo, error) {
	out, err := i.inner.ListResources(ctx)
	record("list", err)
	return out, err
}

func (i instrumented) GetResource(ctx context.Context, id string) (ResourceInfo, error) {
	out, err := i.inner.GetResource(ctx, id)
	record("get", err)
	return out, err
}

func (i instrumented) StartResource(ctx context.Context, id string) error {
	err := i.inner.StartResource(ctx, id)
	record("start", err)
	return err
}

func (i instrumented) TouchResource(ctx context.Context, id string) error {
	err := i.inner.TouchResource(ctx, id)
	record("touch", err)
	return err
}

func record(op string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, errdefs.ErrNotFound):
		result = "not_found"
	default:
		result = "error"
	}
	metrics.IncProviderCall(op, result)
}
