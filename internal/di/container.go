package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Francovarelav/pickpackpromx/internal/platform/config"
	"github.com/Francovarelav/pickpackpromx/internal/repositories"
	"github.com/Francovarelav/pickpackpromx/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Fulfillment services.FulfillmentService
	System      services.SystemService
}

// Collaborators are the non-repository dependencies of the fulfillment flow. Vision, Voice
// and Cameras are required; the rest may be nil.
type Collaborators struct {
	Vision   services.VisionRecognizer
	Voice    services.VoiceInterpreter
	Cameras  services.CameraProvider
	Archiver services.FrameArchiver
	Events   services.FulfillmentEventPublisher
	Metrics  *services.DetectionMetrics

	Build  services.BuildInfo
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Bottle-control sessions started by the
// fulfillment service are bound to ctx and stop when it is cancelled.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, collab Collaborators) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, cfg, reg, collab)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close stops open sessions and then releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.Services.Fulfillment != nil {
		if err := c.Services.Fulfillment.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown fulfillment: %w", err))
		}
	}
	if c.Repositories != nil {
		if err := c.Repositories.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close repositories: %w", err))
		}
	}
	return errors.Join(errs...)
}

func buildServices(ctx context.Context, cfg config.Config, reg repositories.Registry, collab Collaborators) (Services, error) {
	var svc Services

	clock := collab.Clock
	if clock == nil {
		clock = time.Now
	}

	fulfillment, err := services.NewFulfillmentService(services.FulfillmentServiceDeps{
		Carts:    reg.Carts(),
		Catalog:  reg.Catalog(),
		Vision:   collab.Vision,
		Voice:    collab.Voice,
		Cameras:  collab.Cameras,
		Archiver: collab.Archiver,
		Events:   collab.Events,
		Metrics:  collab.Metrics,
		Detection: services.BottleSessionConfig{
			Interval:         cfg.Detection.Interval,
			PollEvery:        cfg.Detection.PollEvery,
			StaleAfter:       cfg.Detection.StaleAfter,
			RateLimitBackoff: cfg.Detection.RateLimitBackoff,
		},
		StrictMatching: cfg.Detection.StrictMatching,
		SessionContext: ctx,
		Clock:          clock,
		Logger:         collab.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build fulfillment service: %w", err)
	}
	svc.Fulfillment = fulfillment

	if healthRepo := reg.Health(); healthRepo != nil {
		build := collab.Build
		if build.Environment == "" {
			build.Environment = cfg.Security.Environment
		}
		if build.StartedAt.IsZero() {
			build.StartedAt = clock().UTC()
		}
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Sessions:         fulfillment,
			Clock:            clock,
			Build:            build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
