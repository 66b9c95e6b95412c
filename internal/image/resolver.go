package image

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/RevCBH/dockerslaves/internal/container"
)

// Runtime is the part of the container runtime the resolver needs.
type Runtime interface {
	InspectImage(ctx context.Context, ref string) (string, error)
	PullImage(ctx context.Context, ref string, w io.Writer) error
	BuildImage(ctx context.Context, cfg container.BuildConfig, w io.Writer) error
}

// Resolver makes images available in the local image cache.
type Resolver struct {
	rt     Runtime
	logger *slog.Logger
}

// NewResolver creates a Resolver. A nil logger discards diagnostics.
func NewResolver(rt Runtime, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Resolver{rt: rt, logger: logger}
}

// Resolve ensures the image of def is present locally and returns the
// reference containers should be created from. Progress is written to log.
// There is a single inspect and pull attempt; failures are returned as
// *ResolutionError.
func (r *Resolver) Resolve(ctx context.Context, def Definition, log io.Writer) (string, error) {
	if log == nil {
		log = io.Discard
	}
	switch d := def.(type) {
	case Reference:
		return r.resolveReference(ctx, d, log)
	case Dockerfile:
		return r.build(ctx, d, log)
	case nil:
		return "", &ResolutionError{Err: fmt.Errorf("no image definition")}
	default:
		return "", &ResolutionError{Image: def.String(), Err: fmt.Errorf("unsupported image definition %T", def)}
	}
}

func (r *Resolver) resolveReference(ctx context.Context, ref Reference, log io.Writer) (string, error) {
	image := ref.Image()
	_, inspectErr := r.rt.InspectImage(ctx, image)

	switch ref.Policy() {
	case PullNever:
		if inspectErr != nil {
			return "", &ResolutionError{
				Image: image,
				Err:   fmt.Errorf("image not present and pull policy is never: %w", inspectErr),
			}
		}
		return image, nil
	case PullIfMissing:
		if inspectErr == nil {
			r.logger.Debug("image present", "image", image)
			return image, nil
		}
	}

	fmt.Fprintf(log, "Pulling docker image %s\n", image)
	if err := r.rt.PullImage(ctx, image, log); err != nil {
		// Another build may have pulled the same image concurrently.
		if inspectErr != nil {
			if _, verr := r.rt.InspectImage(ctx, image); verr == nil {
				r.logger.Info("image became available despite pull failure", "image", image, "error", err)
				return image, nil
			}
		}
		return "", &ResolutionError{Image: image, Err: err}
	}
	return image, nil
}

func (r *Resolver) build(ctx context.Context, d Dockerfile, log io.Writer) (string, error) {
	fmt.Fprintf(log, "Building docker image %s from %s\n", d.Tag(), d.Path())
	err := r.rt.BuildImage(ctx, container.BuildConfig{
		ContextDir: d.ContextDir(),
		Dockerfile: d.Path(),
		Tag:        d.Tag(),
	}, log)
	if err != nil {
		return "", &ResolutionError{Image: d.Tag(), Err: err}
	}
	return d.Tag(), nil
}
