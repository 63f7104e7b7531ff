package slowquery

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
)

// Sink receives captured slow queries. The manager-backed implementation is
// Store; tests substitute fakes.
type Sink interface {
	Store(ctx context.Context, rec *Record) error
}

// Options configures the capture hook.
type Options struct {
	// Threshold is the duration a statement must cross to be captured.
	Threshold time.Duration

	// Sink receives captured records. Nil means log-only capture.
	Sink Sink

	// Hash deduplicates captured statements. Defaults to DefaultHash.
	Hash func(query string) string

	// Logger receives capture notices. Defaults to a silent logger.
	Logger zerolog.Logger
}

// Validate checks the options.
func (o Options) Validate() error {
	return validation.ValidateStruct(&o,
		validation.Field(&o.Threshold, validation.Required, validation.Min(time.Duration(1))),
	)
}

// Hook observes every query executed through a bun handle and hands
// statements over the threshold to the sink. Install it with
// bun.DB.AddQueryHook.
type Hook struct {
	threshold time.Duration
	sink      Sink
	hash      func(string) string
	logger    zerolog.Logger
}

var _ bun.QueryHook = (*Hook)(nil)

// NewHook builds a capture hook from validated options.
func NewHook(opts Options) (*Hook, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Hash == nil {
		opts.Hash = DefaultHash
	}
	return &Hook{
		threshold: opts.Threshold,
		sink:      opts.Sink,
		hash:      opts.Hash,
		logger:    opts.Logger,
	}, nil
}

// BeforeQuery implements bun.QueryHook.
func (h *Hook) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	return ctx
}

// AfterQuery implements bun.QueryHook: it updates the query statistics and
// captures the statement when its duration crosses the threshold. Capture
// is suppressed for queries issued by the sink itself so storing a record
// never observes its own insert.
func (h *Hook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	duration := time.Since(event.StartTime)

	queriesTotal.Inc()
	queryDuration.Observe(duration.Seconds())

	if duration < h.threshold || suppressed(ctx) {
		return
	}
	slowQueriesTotal.Inc()

	rec := New(event.Query, h.hash(event.Query), duration.Seconds())
	h.logger.Warn().
		Str("hash", rec.Hash).
		Dur("duration", duration).
		Msg("slow query captured")

	if h.sink == nil {
		return
	}
	if err := h.sink.Store(withSuppression(ctx), rec); err != nil {
		// A failed capture must never fail the observed query.
		h.logger.Warn().Err(err).Msg("slow query capture failed")
	}
}

type suppressKey struct{}

// withSuppression marks a context so queries it carries are not captured.
func withSuppression(ctx context.Context) context.Context {
	return context.WithValue(ctx, suppressKey{}, true)
}

func suppressed(ctx context.Context) bool {
	on, _ := ctx.Value(suppressKey{}).(bool)
	return on
}
