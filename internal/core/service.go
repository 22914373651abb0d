package core

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"matrixcore/internal/blob"
	"matrixcore/internal/presence"
	"matrixcore/pkg/domain"
)

// Session is the transient engine handle issued by OpenSession. It lives in
// the presence registry only and is rebuilt on reconnect.
type Session = presence.Session

// Service is the cell-scoring engine. Every mutating operation runs the
// permission gate, executes inside one store transaction, emits change-log
// rows per elementary write, and reports whether peers should re-poll.
type Service struct {
	store    PersistentStore
	registry presence.Registry
	blobs    blob.Store
	logger   *zap.Logger
	metrics  MetricsRecorder
	tracer   Tracer
	nowFn    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger; the default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(rec MetricsRecorder) Option {
	return func(s *Service) {
		if rec != nil {
			s.metrics = rec
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithRegistry sets the presence registry; the default is a fresh in-process one.
func WithRegistry(registry presence.Registry) Option {
	return func(s *Service) {
		if registry != nil {
			s.registry = registry
		}
	}
}

// WithBlobStore sets the artifact store used by ExportMatrix.
func WithBlobStore(store blob.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.blobs = store
		}
	}
}

// WithNowFunc overrides the clock; tests use it for deterministic timestamps.
func WithNowFunc(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.nowFn = fn
		}
	}
}

// NewService constructs the engine over the supplied store.
func NewService(store PersistentStore, opts ...Option) *Service {
	s := &Service{
		store:    store,
		registry: presence.NewMemoryRegistry(),
		logger:   zap.NewNop(),
		metrics:  noopMetricsRecorder{},
		tracer:   noopTracer{},
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying persistent store.
func (s *Service) Store() PersistentStore { return s.store }

// Registry returns the presence registry the engine notifies.
func (s *Service) Registry() presence.Registry { return s.registry }

// OpenSession validates the project and matrix, issues a session token, and
// registers the live session. The caller's lastSync starts at "now": the first
// poll only reports edits made after the session opened.
func (s *Service) OpenSession(ctx context.Context, projectID, matrixID, userID int64, readonly bool) (Session, error) {
	var session Session
	err := s.instrument(ctx, "open_session", func(ctx context.Context) error {
		return s.store.View(ctx, func(view TransactionView) error {
			project, ok := view.FindProject(projectID)
			if !ok {
				return domain.ErrNotFound{Entity: domain.EntityProject, ID: projectID}
			}
			matrix, ok := view.FindMatrix(matrixID)
			if !ok || matrix.ProjectID != projectID {
				return domain.ErrNotFound{Entity: domain.EntityMatrix, ID: matrixID}
			}
			if _, member := project.RoleOf(userID); !member {
				return domain.PermissionError{Reason: "user is not a member of the project"}
			}
			now := s.nowFn()
			session = Session{
				Token:       uuid.NewString(),
				ProjectID:   projectID,
				MatrixID:    matrixID,
				UserID:      userID,
				ReadOnly:    readonly,
				ConnectedAt: now,
				LastSync:    now,
			}
			return s.registry.Register(session)
		})
	})
	if err != nil {
		return Session{}, err
	}
	return session, nil
}

// CloseSession removes a live session from the registry.
func (s *Service) CloseSession(session Session) {
	s.registry.Remove(session.MatrixID, session.Token)
}

// notifyPeers fans a re-poll signal out to every other live session on the matrix.
func (s *Service) notifyPeers(session Session) {
	s.registry.Broadcast(presence.Event{
		Kind:     presence.EventRepoll,
		MatrixID: session.MatrixID,
		Token:    session.Token,
		UserID:   session.UserID,
	})
}

// instrument wraps an operation with tracing, metrics, and internal-error
// shielding: unexpected failures are logged and replaced with ErrInternal so
// diagnostics never leak to callers.
func (s *Service) instrument(ctx context.Context, operation string, fn func(context.Context) error) error {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, operation)
	err := fn(ctx)
	span.End(err)
	s.metrics.Observe(ctx, operation, err == nil, time.Since(started))
	if err == nil {
		return nil
	}
	if domain.IsUserFacing(err) {
		return err
	}
	s.logger.Error("operation failed", zap.String("operation", operation), zap.Error(err))
	return domain.ErrInternal
}
