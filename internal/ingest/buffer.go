package ingest

import (
	"sync"
	"time"

	"riskgraph/internal/metrics"
	"riskgraph/pkg/models"
)

// Config controls event admission.
type Config struct {
	MaxLateness      time.Duration
	RetentionHorizon time.Duration
}

// Buffer validates incoming records and maintains per-entity windows.
// Batches have partial-failure semantics: invalid and stale records are
// rejected individually while the rest proceed.
type Buffer struct {
	mu       sync.Mutex
	cfg      Config
	byEntity map[string]*entityWindow
}

// NewBuffer creates an ingestion buffer.
func NewBuffer(cfg Config) *Buffer {
	if cfg.MaxLateness <= 0 {
		cfg.MaxLateness = 15 * time.Minute
	}
	if cfg.RetentionHorizon <= 0 {
		cfg.RetentionHorizon = 30 * 24 * time.Hour
	}
	return &Buffer{
		cfg:      cfg,
		byEntity: make(map[string]*entityWindow),
	}
}

// Ingest normalizes and admits a batch of records. It returns the
// accepted events in batch order and a rejection per failed record.
func (b *Buffer) Ingest(records []models.Record) ([]*models.Event, []models.Rejection) {
	accepted := make([]*models.Event, 0, len(records))
	var rejections []models.Rejection

	b.mu.Lock()
	defer b.mu.Unlock()

	for i, rec := range records {
		ev, err := rec.Normalize()
		if err != nil {
			rejections = append(rejections, models.Rejection{
				Index:     i,
				EntityID:  rec.User,
				Timestamp: rec.Timestamp,
				Kind:      models.RejectInvalidEvent,
				Reason:    err.Error(),
			})
			metrics.EventsRejected.WithLabelValues(models.RejectInvalidEvent).Inc()
			continue
		}

		if rej := b.admit(i, ev); rej != nil {
			rejections = append(rejections, *rej)
			metrics.EventsRejected.WithLabelValues(rej.Kind).Inc()
			continue
		}
		accepted = append(accepted, ev)
		metrics.EventsIngested.Inc()
	}

	return accepted, rejections
}

// AddEvents admits already-normalized events, applying the same lateness
// rules. Used by non-HTTP sources that produce Event values directly.
func (b *Buffer) AddEvents(events []*models.Event) ([]*models.Event, []models.Rejection) {
	accepted := make([]*models.Event, 0, len(events))
	var rejections []models.Rejection

	b.mu.Lock()
	defer b.mu.Unlock()

	for i, ev := range events {
		if rej := b.admit(i, ev); rej != nil {
			rejections = append(rejections, *rej)
			metrics.EventsRejected.WithLabelValues(rej.Kind).Inc()
			continue
		}
		accepted = append(accepted, ev)
		metrics.EventsIngested.Inc()
	}
	return accepted, rejections
}

func (b *Buffer) admit(idx int, ev *models.Event) *models.Rejection {
	w := b.byEntity[ev.EntityID]
	if w == nil {
		w = newEntityWindow()
		b.byEntity[ev.EntityID] = w
	}

	if !w.watermark.IsZero() && ev.Timestamp.Before(w.watermark.Add(-b.cfg.MaxLateness)) {
		return &models.Rejection{
			Index:     idx,
			EntityID:  ev.EntityID,
			Timestamp: ev.Timestamp.Format(time.RFC3339),
			Kind:      models.RejectStaleEvent,
			Reason:    "event is older than max lateness behind the entity watermark",
		}
	}

	w.insert(ev)
	w.prune(b.cfg.RetentionHorizon)
	return nil
}

// Snapshot returns the entity's retained events within [from, to].
// The result is a stable copy; an unknown entity yields an empty slice.
func (b *Buffer) Snapshot(entityID string, from, to time.Time) []*models.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	w := b.byEntity[entityID]
	if w == nil {
		return nil
	}
	return w.slice(from, to)
}

// DeviceFirstSeen reports when a device was first observed for an entity.
func (b *Buffer) DeviceFirstSeen(entityID, device string) (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	w := b.byEntity[entityID]
	if w == nil {
		return time.Time{}, false
	}
	t, ok := w.deviceFirstSeen[device]
	return t, ok
}

// Watermark returns the latest event timestamp seen for an entity.
func (b *Buffer) Watermark(entityID string) time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()

	if w := b.byEntity[entityID]; w != nil {
		return w.watermark
	}
	return time.Time{}
}
