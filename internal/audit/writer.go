// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mileusna/useragent"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/olegiv/ctms-go/internal/geoip"
	"github.com/olegiv/ctms-go/internal/metrics"
	"github.com/olegiv/ctms-go/internal/model"
	"github.com/olegiv/ctms-go/internal/store"
)

// Entry is the input for one audit event. Zero-valued optional fields are
// stored as NULL.
type Entry struct {
	Type      model.EventType
	Level     model.EventLevel
	Operation string

	Entity      string
	EntityID    string
	BeforeState string // JSON snapshot, opaque to the engine
	AfterState  string // JSON snapshot, opaque to the engine

	Actor     string
	ClientIP  string
	UserAgent string

	ErrorMessage string
	StackTrace   string

	DurationMs *int64
	Endpoint   string
	Method     string

	RequestHeaders string // JSON object
	QueryParams    string // JSON object

	// Metadata is merged with engine-side enrichment before storage.
	Metadata map[string]any

	// internal marks events the engine records about itself; their storage
	// failures are never self-recorded again.
	internal bool
}

// WriterConfig holds the audit writer tunables.
type WriterConfig struct {
	// QueueSize bounds the fire-and-forget queue. A full queue drops writes.
	QueueSize int
	// Workers is the number of persisting goroutines.
	Workers int
	// WriteTimeout bounds a single store append so a slow store cannot stall
	// a worker indefinitely.
	WriteTimeout time.Duration
	// MaxStackTrace caps stored stack traces in bytes.
	MaxStackTrace int
	// ErrorLevel is the severity assigned by RecordError when the caller
	// passes none.
	ErrorLevel model.EventLevel
	// SelfLogRate and SelfLogBurst throttle engine-internal error events so
	// a persistent storage failure cannot flood the log once it recovers.
	SelfLogRate  rate.Limit
	SelfLogBurst int
	// GeoIP, when set, resolves client IPs to country codes stored in the
	// event metadata.
	GeoIP *geoip.Lookup
}

// DefaultWriterConfig returns the default writer tunables.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		QueueSize:     1024,
		Workers:       3,
		WriteTimeout:  5 * time.Second,
		MaxStackTrace: 4096,
		ErrorLevel:    model.EventLevelError,
		SelfLogRate:   rate.Every(10 * time.Second),
		SelfLogBurst:  5,
	}
}

// Writer persists audit events from arbitrary call sites. Record never
// blocks and never fails the caller's primary operation: events are handed
// to a bounded queue and persisted by background workers; on a full queue or
// a storage failure the event is dropped and counted. RecordSync is the
// strict variant for the few callers that must observe persistence errors.
type Writer struct {
	queries *store.Queries
	logger  *slog.Logger
	metrics *metrics.AuditMetrics
	cfg     WriterConfig

	queue     chan Entry
	wg        sync.WaitGroup
	accepting atomic.Bool
	dropped   atomic.Int64
	selfLimit *rate.Limiter

	mu      sync.Mutex
	started bool
}

// NewWriter creates an audit writer over db. The logger must not itself
// forward into this writer (see logging.AuditLogHandler for the tee that
// may).
func NewWriter(db *sql.DB, logger *slog.Logger, m *metrics.AuditMetrics, cfg WriterConfig) *Writer {
	def := DefaultWriterConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.MaxStackTrace <= 0 {
		cfg.MaxStackTrace = def.MaxStackTrace
	}
	if !cfg.ErrorLevel.Valid() {
		cfg.ErrorLevel = def.ErrorLevel
	}
	if cfg.SelfLogRate <= 0 {
		cfg.SelfLogRate = def.SelfLogRate
	}
	if cfg.SelfLogBurst <= 0 {
		cfg.SelfLogBurst = def.SelfLogBurst
	}
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.NewWithRegistry(prometheus.NewRegistry())
	}

	return &Writer{
		queries:   store.New(db),
		logger:    logger,
		metrics:   m,
		cfg:       cfg,
		queue:     make(chan Entry, cfg.QueueSize),
		selfLimit: rate.NewLimiter(cfg.SelfLogRate, cfg.SelfLogBurst),
	}
}

// Start launches the persisting workers.
func (w *Writer) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.started = true
	w.accepting.Store(true)

	w.logger.Info("starting audit writer", "workers", w.cfg.Workers, "queue_size", w.cfg.QueueSize)
	for i := 0; i < w.cfg.Workers; i++ {
		w.wg.Add(1)
		go w.worker()
	}
}

// Stop drains the queue and waits for the workers to finish. Records
// arriving after Stop are dropped.
func (w *Writer) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.started = false
	w.mu.Unlock()

	w.accepting.Store(false)
	close(w.queue)
	w.wg.Wait()
	w.logger.Info("audit writer stopped", "dropped_total", w.dropped.Load())
}

// Dropped returns the number of events dropped since the writer was created.
func (w *Writer) Dropped() int64 {
	return w.dropped.Load()
}

// Record validates entry and hands it to the background queue. It never
// blocks and never returns an error to the caller: invalid input and a full
// queue are counted as drops and reported on the process log only.
func (w *Writer) Record(entry Entry) {
	if err := validate(entry); err != nil {
		w.drop(metrics.DropReasonValidation)
		w.logger.Warn("discarding invalid audit event", "error", err, "operation", entry.Operation)
		return
	}
	w.enqueue(entry)
}

// RecordSync validates and persists entry on the caller's goroutine,
// returning the assigned event id. Unlike Record, storage failures
// propagate to the caller.
func (w *Writer) RecordSync(ctx context.Context, entry Entry) (int64, error) {
	if err := validate(entry); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, w.cfg.WriteTimeout)
	defer cancel()

	id, err := w.persist(ctx, entry)
	if err != nil {
		return 0, &StorageError{Op: "append", Err: err}
	}
	return id, nil
}

// RecordAuth records an authentication attempt. Failed attempts are WARN.
func (w *Writer) RecordAuth(actor string, success bool, clientIP, userAgent string) {
	level := model.EventLevelInfo
	if !success {
		level = model.EventLevelWarn
	}
	w.Record(Entry{
		Type:      model.EventTypeAuth,
		Level:     level,
		Operation: model.OperationLogin,
		Actor:     actor,
		ClientIP:  clientIP,
		UserAgent: userAgent,
		Metadata:  map[string]any{"success": success},
	})
}

// RecordAPIRequest records one API request trace.
func (w *Writer) RecordAPIRequest(endpoint, method, actor, clientIP, userAgent string, headers map[string]string, durationMs int64) {
	w.Record(Entry{
		Type:           model.EventTypeAPIRequest,
		Level:          model.EventLevelInfo,
		Operation:      model.OperationRequest,
		Actor:          actor,
		ClientIP:       clientIP,
		UserAgent:      userAgent,
		Endpoint:       endpoint,
		Method:         method,
		RequestHeaders: marshalJSONMap(headers),
		DurationMs:     &durationMs,
	})
}

// RecordError records an error event. When level is empty the configured
// default severity applies. The current stack is captured and truncated to
// the configured cap.
func (w *Writer) RecordError(message string, cause error, level model.EventLevel, endpoint, method, actor, clientIP, userAgent string) {
	if !level.Valid() {
		level = w.cfg.ErrorLevel
	}
	if cause != nil {
		message = fmt.Sprintf("%s: %v", message, cause)
	}
	w.Record(Entry{
		Type:         model.EventTypeError,
		Level:        level,
		Operation:    "ERROR",
		Actor:        actor,
		ClientIP:     clientIP,
		UserAgent:    userAgent,
		Endpoint:     endpoint,
		Method:       method,
		ErrorMessage: message,
		StackTrace:   truncate(string(debug.Stack()), w.cfg.MaxStackTrace),
	})
}

// RecordMutation records a data mutation with before/after snapshots. The
// snapshots are marshalled as opaque JSON; the engine never inspects their
// shape.
func (w *Writer) RecordMutation(entity, entityID, operation, actor string, before, after any) {
	w.Record(Entry{
		Type:        model.EventTypeDataMutation,
		Level:       model.EventLevelInfo,
		Operation:   operation,
		Entity:      entity,
		EntityID:    entityID,
		Actor:       actor,
		BeforeState: marshalSnapshot(before),
		AfterState:  marshalSnapshot(after),
	})
}

// validate checks the required fields of an entry.
func validate(entry Entry) error {
	if !entry.Type.Valid() {
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown event type %q", entry.Type)}
	}
	if !entry.Level.Valid() {
		return &ValidationError{Field: "level", Reason: fmt.Sprintf("unknown event level %q", entry.Level)}
	}
	if entry.Operation == "" {
		return &ValidationError{Field: "operation", Reason: "must not be empty"}
	}
	return nil
}

// enqueue hands the entry to the queue without blocking.
func (w *Writer) enqueue(entry Entry) {
	if !w.accepting.Load() {
		w.drop(metrics.DropReasonShutdown)
		return
	}

	select {
	case w.queue <- entry:
		w.metrics.SetQueueDepth(len(w.queue))
	default:
		w.drop(metrics.DropReasonQueueFull)
		w.logger.Warn("audit queue full, dropping event", "operation", entry.Operation, "type", entry.Type)
	}
}

// worker persists queued entries until the queue is closed.
func (w *Writer) worker() {
	defer w.wg.Done()

	for entry := range w.queue {
		w.metrics.SetQueueDepth(len(w.queue))

		ctx, cancel := context.WithTimeout(context.Background(), w.cfg.WriteTimeout)
		_, err := w.persist(ctx, entry)
		cancel()

		if err != nil {
			w.drop(metrics.DropReasonStorage)
			w.logger.Error("failed to persist audit event",
				"error", err, "operation", entry.Operation, "type", entry.Type)
			if !entry.internal {
				w.selfRecord(err)
			}
		}
	}
}

// persist enriches and appends one entry. CreatedAt is assigned here, at
// the moment of commit.
func (w *Writer) persist(ctx context.Context, entry Entry) (int64, error) {
	start := time.Now()

	id, err := w.queries.CreateAuditEvent(ctx, store.CreateAuditEventParams{
		Type:           entry.Type,
		Level:          entry.Level,
		Operation:      entry.Operation,
		Entity:         nullable(entry.Entity),
		EntityID:       nullable(entry.EntityID),
		BeforeState:    nullable(entry.BeforeState),
		AfterState:     nullable(entry.AfterState),
		Actor:          nullable(entry.Actor),
		ClientIP:       nullable(entry.ClientIP),
		UserAgent:      nullable(entry.UserAgent),
		ErrorMessage:   nullable(entry.ErrorMessage),
		StackTrace:     nullable(entry.StackTrace),
		DurationMs:     nullableInt(entry.DurationMs),
		Endpoint:       nullable(entry.Endpoint),
		Method:         nullable(entry.Method),
		RequestHeaders: nullable(entry.RequestHeaders),
		QueryParams:    nullable(entry.QueryParams),
		Metadata:       w.enrich(entry),
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		return 0, err
	}

	w.metrics.ObserveWriteDuration(time.Since(start))
	w.metrics.EventWritten(string(entry.Type))
	return id, nil
}

// enrich merges caller metadata with parsed user agent and GeoIP country.
func (w *Writer) enrich(entry Entry) string {
	meta := make(map[string]any, len(entry.Metadata)+3)
	for k, v := range entry.Metadata {
		meta[k] = v
	}

	if entry.UserAgent != "" {
		ua := useragent.Parse(entry.UserAgent)
		if ua.Name != "" {
			meta["ua_browser"] = ua.Name
		}
		if ua.OS != "" {
			meta["ua_os"] = ua.OS
		}
	}

	if w.cfg.GeoIP != nil && entry.ClientIP != "" {
		if country := w.cfg.GeoIP.Country(entry.ClientIP); country != "" {
			meta["country"] = country
		}
	}

	if len(meta) == 0 {
		return "{}"
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// selfRecord queues an engine-internal error event, rate limited so a
// persistent outage cannot flood the log on recovery.
func (w *Writer) selfRecord(cause error) {
	if !w.selfLimit.Allow() {
		return
	}
	w.enqueue(Entry{
		Type:         model.EventTypeError,
		Level:        model.EventLevelError,
		Operation:    model.OperationInternal,
		ErrorMessage: truncate(cause.Error(), 1024),
		internal:     true,
	})
}

func (w *Writer) drop(reason string) {
	w.dropped.Add(1)
	w.metrics.EventDropped(reason)
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// marshalJSONMap renders a string map as a JSON object, or empty on failure.
func marshalJSONMap(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	data, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(data)
}

// marshalSnapshot renders an arbitrary snapshot value as JSON. Strings are
// assumed to already be JSON and pass through untouched.
func marshalSnapshot(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case json.RawMessage:
		return string(s)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
