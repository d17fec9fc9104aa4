package pipeline

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dunamismax/cropflow/internal/domain"
	"github.com/dunamismax/cropflow/internal/errs"
	"github.com/dunamismax/cropflow/internal/geometry"
	"github.com/dunamismax/cropflow/internal/id"
	"github.com/dunamismax/cropflow/internal/raster"
)

// Session is an interactive invocation parked between decode and render.
// Its methods are safe for concurrent use; work on one session is serialised.
type Session struct {
	p           *Processor
	id          string
	req         Request
	spec        domain.OutputSpec
	sourceBytes int
	natural     domain.Size
	preview     Preview
	createdAt   time.Time

	abortMu sync.Mutex
	abort   context.CancelFunc

	mu      sync.Mutex
	src     *raster.Source
	crop    geometry.CropSession
	trail   *trail
	result  Result
	pending *domain.CompressionResult
}

// Begin decodes the request and parks in CropPending with a live preview. The
// preview is revoked on every way out of the session.
func (p *Processor) Begin(ctx context.Context, req Request) (*Session, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.begin", trace.WithAttributes(
		attribute.String("bucket", string(req.Bucket)),
	))
	defer span.End()

	spec, err := p.validate(req)
	if err != nil {
		return nil, err
	}

	t := newTrail()
	preview := p.previews.Create(req.Data, sniffContentType(req.Data))
	src, err := p.decode(ctx, t, req.Data)
	if err != nil {
		p.previews.Revoke(preview.ID)
		span.RecordError(err)
		return nil, err
	}
	_ = t.enter(StateCropPending)

	crop := geometry.CropSession{Aspect: spec.Aspect()}
	if req.Crop != nil {
		crop = *req.Crop
	}

	s := &Session{
		p:           p,
		id:          id.New(),
		spec:        spec,
		sourceBytes: len(req.Data),
		natural:     src.Natural(),
		preview:     preview,
		createdAt:   time.Now().UTC(),
		src:         src,
		crop:        crop,
		trail:       t,
	}
	req.Data = nil
	req.Crop = nil
	s.req = req

	p.sessions.Add(s.id, s)
	p.metrics.activeSessions.Inc()
	p.logger.Debug("crop session opened",
		zap.String("session_id", s.id),
		zap.String("bucket", string(req.Bucket)),
		zap.Int("width", s.natural.Width),
		zap.Int("height", s.natural.Height),
	)
	return s, nil
}

// Session returns a live session by id.
func (p *Processor) Session(sessionID string) (*Session, bool) {
	return p.sessions.Get(sessionID)
}

func (p *Processor) forget(sessionID string) {
	p.sessions.Remove(sessionID)
}

func (s *Session) ID() string { return s.id }
func (s *Session) Bucket() domain.Bucket { return s.req.Bucket }
func (s *Session) Spec() domain.OutputSpec { return s.spec }
func (s *Session) Natural() domain.Size { return s.natural }
func (s *Session) Preview() Preview { return s.preview }
func (s *Session) CreatedAt() time.Time { return s.createdAt }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trail.current()
}

func (s *Session) States() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trail.snapshot()
}

// Crop returns the current crop state and the rectangle it resolves to.
func (s *Session) Crop() (geometry.CropSession, domain.CropRect) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.crop, s.crop.Rect(s.natural)
}

// Adjust records new crop tool state and returns the resolved rectangle.
func (s *Session) Adjust(crop geometry.CropSession) (domain.CropRect, error) {
	if err := crop.Validate(); err != nil {
		return domain.CropRect{}, errs.New(errs.KindInvalidInput, "session.adjust", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.trail.enter(StateCropAdjusting); err != nil {
		return domain.CropRect{}, err
	}
	s.crop = crop
	return crop.Rect(s.natural), nil
}

// Commit renders the current crop, compresses and uploads. The preview is
// revoked whatever the outcome. A failed upload keeps the compressed bytes so
// RetryUpload can try the store again without recomputing them.
func (s *Session) Commit(ctx context.Context) (Result, error) {
	started := time.Now()
	ctx, span := s.p.tracer.Start(ctx, "pipeline.commit", trace.WithAttributes(
		attribute.String("bucket", string(s.req.Bucket)),
		attribute.String("session_id", s.id),
	))
	defer span.End()

	s.mu.Lock()
	switch cur := s.trail.current(); cur {
	case StateCropPending, StateCropAdjusting:
	default:
		s.mu.Unlock()
		return Result{States: s.States()}, errs.Newf(errs.KindConflict, "session.commit", "session is %s", cur)
	}

	res, err := s.p.commit(ctx, s.trail, s.setAbort, s.req, s.spec, s.src, s.crop.Rect(s.natural))
	res.SourceBytes = s.sourceBytes
	res.Duration = time.Since(started)
	s.src = nil
	s.p.previews.Revoke(s.preview.ID)

	retryable := err != nil && s.trail.current() == StateFailed && errs.IsUpload(err)
	if retryable {
		comp := res.Compression
		s.pending = &comp
	}
	s.result = res
	s.mu.Unlock()

	if !retryable {
		s.p.forget(s.id)
	}
	return s.p.finish(span, s.req, res, err)
}

// RetryUpload repeats only the upload step after a failed Commit. New assets get
// a fresh path token; replacements write the same path again.
func (s *Session) RetryUpload(ctx context.Context) (Result, error) {
	ctx, span := s.p.tracer.Start(ctx, "pipeline.retry_upload", trace.WithAttributes(
		attribute.String("session_id", s.id),
	))
	defer span.End()

	s.mu.Lock()
	if s.pending == nil || s.trail.current() != StateFailed {
		cur := s.trail.current()
		s.mu.Unlock()
		return Result{States: s.States()}, errs.Newf(errs.KindConflict, "session.retry_upload", "nothing to retry in state %s", cur)
	}

	asset, err := s.p.upload(ctx, s.trail, s.req, *s.pending)
	res := s.result
	res.Asset = asset
	res.States = s.trail.snapshot()
	s.result = res
	if err == nil {
		s.pending = nil
	}
	s.mu.Unlock()

	if err == nil {
		s.p.forget(s.id)
	}
	return s.p.finish(span, s.req, res, err)
}

// Cancel abandons the session. Before uploading starts nothing is written; once
// the upload has begun Cancel waits for it and leaves the outcome in place.
func (s *Session) Cancel() {
	s.interrupt()
	s.mu.Lock()
	s.cancelLocked()
	s.mu.Unlock()
	s.p.forget(s.id)
}

// abandon is Cancel for a session already dropped from the cache. It never
// blocks behind a running commit; the interrupt is enough for that commit to
// stop before uploading.
func (s *Session) abandon() {
	s.interrupt()
	if !s.mu.TryLock() {
		return
	}
	s.cancelLocked()
	s.mu.Unlock()
}

func (s *Session) cancelLocked() {
	s.pending = nil
	if !s.trail.current().Terminal() {
		_ = s.trail.enter(StateCancelled)
		s.p.metrics.outcomesTotal.WithLabelValues(string(s.req.Bucket), "cancelled").Inc()
		s.p.logger.Debug("crop session cancelled", zap.String("session_id", s.id))
	}
	s.src = nil
	s.p.previews.Revoke(s.preview.ID)
}

func (s *Session) interrupt() {
	s.abortMu.Lock()
	defer s.abortMu.Unlock()
	if s.abort != nil {
		s.abort()
	}
}

func (s *Session) setAbort(cancel context.CancelFunc) {
	s.abortMu.Lock()
	defer s.abortMu.Unlock()
	s.abort = cancel
}
