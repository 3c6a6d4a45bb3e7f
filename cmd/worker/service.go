package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/inventory-service/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

// Conn is a dependency the worker pings before consuming and closes on exit.
type Conn interface {
	Ping(ctx context.Context) error
	Close() error
}

type Dependency struct {
	Name string
	Conn Conn
}

type runner interface {
	Run(ctx context.Context) error
}

type ServiceParams struct {
	Logger        *logger.Logger
	Dependencies  []Dependency
	Consumers     []runner
	MetricsServer *http.Server
}

type Service struct {
	logg          *logger.Logger
	deps          []Dependency
	consumers     []runner
	metricsServer *http.Server
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if len(params.Consumers) == 0 {
		return nil, errors.New("at least one consumer is required")
	}
	for _, dep := range params.Dependencies {
		if dep.Conn == nil {
			return nil, fmt.Errorf("%s client is required", dep.Name)
		}
	}
	return &Service{
		logg:          params.Logger,
		deps:          params.Dependencies,
		consumers:     params.Consumers,
		metricsServer: params.MetricsServer,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for _, dep := range s.deps {
		if err := pingDependency(ctx, s.logg, dep.Name, dep.Conn.Ping); err != nil {
			return err
		}
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

// Run blocks until ctx is canceled or any consumer fails. A failing consumer
// cancels the others.
func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range s.consumers {
		c := c
		g.Go(func() error {
			return c.Run(gctx)
		})
	}

	if s.metricsServer != nil {
		g.Go(func() error {
			if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return s.metricsServer.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logg.Error(ctx, "consumer stopped unexpectedly", err)
		return err
	}
	s.logg.Info(ctx, "worker context canceled")
	return nil
}

// Close releases dependencies in reverse order and reports every failure.
func (s *Service) Close() error {
	var err error
	for i := len(s.deps) - 1; i >= 0; i-- {
		if cerr := s.deps[i].Conn.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("close %s: %w", s.deps[i].Name, cerr))
		}
	}
	return err
}
