// Package pipeline drives price-monitoring runs over the target list.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/user/price-monitor/internal/detector"
	"github.com/user/price-monitor/internal/domain"
	"github.com/user/price-monitor/internal/extractor"
	"github.com/user/price-monitor/internal/fetcher"
	"github.com/user/price-monitor/internal/monitoring"
	"github.com/user/price-monitor/internal/notifier"
	"github.com/user/price-monitor/internal/price"
	"github.com/user/price-monitor/internal/ratelimit"
	"github.com/user/price-monitor/internal/storage"
)

type Config struct {
	// NotifyOnFirstSeen also alerts when a target is priced for the first time.
	NotifyOnFirstSeen bool
	// WriteTimeout bounds the store and notifier calls of one target. They run
	// detached from run cancellation so a started write always completes.
	WriteTimeout time.Duration
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Fetcher   fetcher.Fetcher
	Extractor *extractor.Extractor
	Limiter   *ratelimit.Limiter
	Store     storage.HistoryStore
	Notifier  notifier.Notifier
	Composer  *notifier.Composer
	Metrics   *monitoring.Metrics
	Logger    *zap.Logger
}

// Pipeline fetches, extracts, classifies, persists and notifies per target.
type Pipeline struct {
	Deps
	cfg Config
	now func() time.Time
}

func New(cfg Config, deps Deps) *Pipeline {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 15 * time.Second
	}
	if deps.Notifier == nil {
		deps.Notifier = notifier.Nop{}
	}
	return &Pipeline{Deps: deps, cfg: cfg, now: time.Now}
}

// RunOptions customise a single run.
type RunOptions struct {
	RunID      string
	OnProgress func(domain.Progress)
}

// Run processes targets in order and returns one outcome per target. Per-target
// failures are recorded in the report and never returned. The error is non-nil
// only when the store is unreachable before the loop, or when ctx is cancelled;
// the partial report is returned in the latter case.
func (p *Pipeline) Run(ctx context.Context, targets []domain.TargetURL) (*domain.RunReport, error) {
	return p.Execute(ctx, targets, RunOptions{})
}

func (p *Pipeline) Execute(ctx context.Context, targets []domain.TargetURL, opts RunOptions) (*domain.RunReport, error) {
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	report := &domain.RunReport{RunID: opts.RunID, StartedAt: p.now(), Outcomes: []domain.Outcome{}}
	if len(targets) == 0 {
		report.FinishedAt = p.now()
		return report, nil
	}

	// A run cancelled before it started is cancelled, not a store failure.
	if err := ctx.Err(); err != nil {
		report.FinishedAt = p.now()
		report.Cancelled = true
		return report, err
	}
	if err := p.Store.Ping(ctx); err != nil {
		report.FinishedAt = p.now()
		return report, fmt.Errorf("pipeline.Run: %w: %v", storage.ErrStoreUnavailable, err)
	}

	log := p.Logger.With(zap.String("run_id", opts.RunID))
	log.Info("run started", zap.Int("targets", len(targets)))

	var (
		slots = make([]*domain.Outcome, len(targets))
		wg    sync.WaitGroup
		mu    sync.Mutex
		done  int
	)
	for i, t := range targets {
		// Checked before Acquire: a free slot must not win over cancellation.
		if ctx.Err() != nil {
			break
		}
		permit, err := p.Limiter.Acquire(ctx)
		if err != nil {
			break
		}

		wg.Add(1)
		go func(i int, t domain.TargetURL) {
			defer wg.Done()
			defer permit.Release()

			o, ok := p.process(ctx, log, t)
			if !ok {
				return
			}
			slots[i] = &o

			mu.Lock()
			done++
			progress := domain.Progress{Done: done, Total: len(targets)}
			mu.Unlock()
			if opts.OnProgress != nil {
				opts.OnProgress(progress)
			}
		}(i, t)
	}
	wg.Wait()

	for _, o := range slots {
		if o != nil {
			report.Add(*o)
		}
	}
	report.FinishedAt = p.now()
	p.Metrics.RunDuration.Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())

	if err := ctx.Err(); err != nil {
		report.Cancelled = true
		log.Warn("run cancelled", zap.Int("processed", report.Attempted), zap.Int("targets", len(targets)))
		return report, err
	}

	log.Info("run finished",
		zap.Int("succeeded", report.Succeeded),
		zap.Int("fetch_failed", report.FetchFailed),
		zap.Int("extraction_failed", report.ExtractionFailed),
		zap.Int("storage_failed", report.StorageFailed),
		zap.Int("price_drops", report.PriceDrops),
		zap.Int("notified", report.Notified),
	)
	return report, nil
}

// process handles one target. It reports false when the fetch was cut short by
// cancellation; such a target gets no outcome.
func (p *Pipeline) process(ctx context.Context, log *zap.Logger, t domain.TargetURL) (domain.Outcome, bool) {
	start := p.now()
	o := domain.Outcome{URL: t.URL}
	log = log.With(zap.String("url", t.URL))

	finish := func() (domain.Outcome, bool) {
		o.Duration = p.now().Sub(start)
		p.Metrics.IncOutcome(string(o.Kind))
		return o, true
	}

	fetchStart := p.now()
	html, attempts, err := p.fetch(ctx, t.URL)
	o.Attempts = attempts
	p.Metrics.FetchDuration.Observe(p.now().Sub(fetchStart).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return o, false
		}
		p.Metrics.IncFetch(fetcher.ErrorLabel(err))
		log.Warn("fetch failed", zap.Int("attempts", attempts), zap.Error(err))
		o.Kind, o.Reason = domain.OutcomeFetchFailed, err.Error()
		return finish()
	}
	p.Metrics.IncFetch("success")

	res, err := p.Extractor.Extract(html)
	if err != nil {
		log.Warn("extraction failed", zap.Error(err))
		o.Kind, o.Reason = domain.OutcomeExtractionFailed, err.Error()
		return finish()
	}
	extracted := res.Price
	o.SKU, o.Price, o.Strategy = res.SKU, &extracted, res.Strategy

	// From here on the target is completed even if the run is cancelled.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.WriteTimeout)
	defer cancel()

	existing, err := p.Store.Get(wctx, t.URL)
	if errors.Is(err, storage.ErrNotFound) {
		existing, err = nil, nil
	}
	if err != nil {
		log.Error("failed to read price record", zap.Error(err))
		o.Kind, o.Reason = domain.OutcomeStorageFailed, err.Error()
		return finish()
	}

	o.Classification = detector.Classify(existing, res.Price)
	if existing != nil {
		prev := existing.Price
		o.Previous = &prev
	}
	o.Kind = domain.OutcomeSuccess

	if !detector.ShouldPersist(o.Classification) {
		log.Debug("price not persisted", zap.String("classification", string(o.Classification)),
			zap.Stringer("price", res.Price))
		return finish()
	}

	rec := domain.PriceRecord{URL: t.URL, SKU: res.SKU, Price: res.Price}
	if existing != nil {
		rec.Version, rec.CreatedAt = existing.Version, existing.CreatedAt
		if rec.SKU == "" {
			rec.SKU = existing.SKU
		}
	}
	saved, err := p.Store.Upsert(wctx, rec)
	if err != nil {
		log.Error("failed to save price record", zap.Error(err))
		o.Kind, o.Reason = domain.OutcomeStorageFailed, err.Error()
		return finish()
	}
	o.Persisted = true
	o.SKU = saved.SKU

	if o.Classification == domain.ClassDecreased {
		p.Metrics.PriceDropsTotal.Inc()
		log.Info("price drop detected", zap.Stringer("previous", existing.Price), zap.Stringer("price", res.Price))
	} else {
		log.Info("new target priced", zap.Stringer("price", res.Price))
	}

	if o.Classification == domain.ClassDecreased || p.cfg.NotifyOnFirstSeen {
		if err := p.notify(wctx, t, saved, o.Previous, o.Classification); err != nil {
			p.Metrics.IncNotification("failed")
			log.Error("notification failed", zap.Error(err))
			o.NotifyError = err.Error()
		} else {
			p.Metrics.IncNotification("sent")
			o.Notified = true
		}
	}
	return finish()
}

func (p *Pipeline) fetch(ctx context.Context, url string) (string, int, error) {
	if af, ok := p.Fetcher.(fetcher.AttemptFetcher); ok {
		return af.FetchAttempts(ctx, url)
	}
	html, err := p.Fetcher.Fetch(ctx, url)
	return html, 1, err
}

func (p *Pipeline) notify(ctx context.Context, t domain.TargetURL, rec *domain.PriceRecord, previous *price.Price, class domain.Classification) error {
	msg, err := p.Composer.Compose(notifier.PriceEvent{
		URL:            rec.URL,
		Name:           t.Name,
		SKU:            rec.SKU,
		Classification: class,
		OldPrice:       previous,
		NewPrice:       rec.Price,
		DetectedAt:     rec.UpdatedAt,
	})
	if err != nil {
		return err
	}
	return p.Notifier.Notify(ctx, msg)
}
