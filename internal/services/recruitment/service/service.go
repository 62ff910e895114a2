// Package service is the exposed recruitment surface. It composes the
// admission gateway, the approval engine and the read paths, and wraps every
// call with a span, an operation metric and a structured log line.
package service

import (
	"context"
	"time"

	apperrors "github.com/gwtt/dagachi/internal/platform/errors"
	"github.com/gwtt/dagachi/internal/platform/id"
	"github.com/gwtt/dagachi/internal/platform/logging"
	"github.com/gwtt/dagachi/internal/platform/telemetry/metrics"
	"github.com/gwtt/dagachi/internal/services/recruitment/admission"
	"github.com/gwtt/dagachi/internal/services/recruitment/approval"
	"github.com/gwtt/dagachi/internal/services/recruitment/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/gwtt/dagachi/internal/services/recruitment/service"

// Service exposes recruitment operations.
type Service struct {
	store      storage.Store
	identities storage.IdentityStore
	admission  *admission.Gateway
	approval   *approval.Engine

	logger  *zap.Logger
	metrics *metrics.Recorder
	tracer  trace.Tracer
	now     func() time.Time
	newID   func() (string, error)
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		s.logger = logging.OrNop(logger)
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(recorder *metrics.Recorder) Option {
	return func(s *Service) {
		s.metrics = recorder
	}
}

// WithTracerProvider sets the provider spans are created from.
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(s *Service) {
		if provider != nil {
			s.tracer = provider.Tracer(instrumentationName)
		}
	}
}

// WithClock overrides the time source for every component.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides record id generation.
func WithIDGenerator(newID func() (string, error)) Option {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// New builds a Service over store. identities resolves callers; it is
// required.
func New(store storage.Store, identities storage.IdentityStore, opts ...Option) *Service {
	s := &Service{
		store:      store,
		identities: identities,
		logger:     zap.NewNop(),
		tracer:     otel.Tracer(instrumentationName),
		now:        time.Now,
		newID:      id.NewID,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.admission = admission.New(store, identities,
		admission.WithClock(s.now),
		admission.WithIDGenerator(s.newID),
	)
	s.approval = approval.New(store, identities, approval.WithClock(s.now))
	return s
}

// operation tracks one call for spans, metrics and logs.
type operation struct {
	s       *Service
	name    string
	span    trace.Span
	started time.Time
	fields  []zap.Field
}

// begin starts an operation. keyvals are alternating keys and values that
// become both span attributes and log fields.
func (s *Service) begin(ctx context.Context, name string, keyvals ...string) (context.Context, *operation) {
	attrs := make([]attribute.KeyValue, 0, len(keyvals)/2)
	fields := make([]zap.Field, 0, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		attrs = append(attrs, attribute.String(keyvals[i], keyvals[i+1]))
		fields = append(fields, zap.String(keyvals[i], keyvals[i+1]))
	}
	ctx, span := s.tracer.Start(ctx, "recruitment."+name, trace.WithAttributes(attrs...))
	return ctx, &operation{s: s, name: name, span: span, started: time.Now(), fields: fields}
}

// end records the outcome of the call. Success is logged at Info for
// mutations only; reads stay quiet unless they fail unexpectedly.
func (o *operation) end(err error, mutation bool, extra ...zap.Field) {
	defer o.span.End()

	outcome := string(apperrors.KindOf(err))
	o.s.metrics.ObserveOperation(o.name, outcome, time.Since(o.started))

	fields := append(append([]zap.Field{zap.String("operation", o.name)}, o.fields...), extra...)
	if err == nil {
		if mutation {
			o.s.logger.Info("recruitment operation committed", fields...)
		}
		return
	}

	o.span.RecordError(err)
	o.span.SetAttributes(attribute.String("error.code", string(apperrors.CodeOf(err))))
	fields = append(fields, zap.String("code", string(apperrors.CodeOf(err))), zap.Error(err))
	switch apperrors.KindOf(err) {
	case apperrors.KindTransient:
		o.span.SetStatus(codes.Error, err.Error())
		o.s.logger.Warn("recruitment operation hit lock contention", fields...)
	case apperrors.KindInternal:
		o.span.SetStatus(codes.Error, err.Error())
		o.s.logger.Error("recruitment operation failed", fields...)
	default:
		o.s.logger.Debug("recruitment operation refused", fields...)
	}
}

func (s *Service) recordTransition(ctx context.Context, postingID string, from, to string) {
	if from == to {
		return
	}
	s.metrics.ObserveTransition(from, to)
	trace.SpanFromContext(ctx).AddEvent("posting.transition", trace.WithAttributes(
		attribute.String("posting.from", from),
		attribute.String("posting.to", to),
	))
	s.logger.Info("posting status changed",
		zap.String("posting_id", postingID),
		zap.String("from", from),
		zap.String("to", to),
	)
}

// resolve returns the caller identity.
func (s *Service) resolve(ctx context.Context, userID string) error {
	_, err := s.identities.ResolveIdentity(ctx, userID)
	if err != nil {
		return storage.AppError(err, apperrors.CodeUserNotFound, "user not found")
	}
	return nil
}
