// Package baseline maintains rolling per-bucket heart rate averages and
// classifies a session's effort against its bucket's history.
package baseline

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/ember/heatsync/internal/db"
	"github.com/ember/heatsync/internal/models"
)

// minSessions is the contribution count below which a bucket cannot support
// a comparison.
const minSessions = 3

// typicalBand is the relative deviation treated as a typical effort.
const typicalBand = 0.05

// Engine computes baselines over the local session store.
type Engine struct {
	store *db.DB
}

// New creates a baseline engine backed by the given store.
func New(store *db.DB) *Engine {
	return &Engine{store: store}
}

// UpdateBaseline folds one session's average heart rate into its bucket's
// rolling mean. Non-positive input is ignored entirely: no record is created
// and an existing one is untouched.
func (e *Engine) UpdateBaseline(bucket models.Bucket, avgHR float64) error {
	if avgHR <= 0 {
		return nil
	}

	existing, err := e.store.GetBaseline(bucket)
	if err != nil {
		return fmt.Errorf("update baseline %s: %w", bucket, err)
	}

	b := models.Baseline{Bucket: bucket}
	if existing != nil {
		b = *existing
	}
	b.AvgHR = (b.AvgHR*float64(b.SessionCount) + avgHR) / float64(b.SessionCount+1)
	b.SessionCount++

	if err := e.store.SaveBaseline(&b); err != nil {
		return fmt.Errorf("update baseline %s: %w", bucket, err)
	}
	slog.Debug("baseline updated", "bucket", bucket, "avg_hr", b.AvgHR, "count", b.SessionCount)
	return nil
}

// RecordSession feeds a committed session into its bucket.
func (e *Engine) RecordSession(s *models.Session) error {
	return e.UpdateBaseline(s.Bucket(), s.AvgHR)
}

// CompareToBaseline classifies a session's heart rate against its bucket.
// The 5% band is evaluated at full precision; the returned percent is
// rounded to the nearest integer for display.
func (e *Engine) CompareToBaseline(s *models.Session) (models.Comparison, error) {
	bucket := s.Bucket()

	b, err := e.store.GetBaseline(bucket)
	if err != nil {
		return models.Comparison{}, fmt.Errorf("compare to baseline %s: %w", bucket, err)
	}
	if b == nil || b.SessionCount < minSessions {
		return models.Comparison{Kind: models.ComparisonInsufficientData, Bucket: bucket}, nil
	}

	ratio := (s.AvgHR - b.AvgHR) / b.AvgHR
	if math.Abs(ratio) <= typicalBand {
		return models.Comparison{Kind: models.ComparisonTypical, Bucket: bucket, AvgHR: b.AvgHR}, nil
	}

	pct := int(math.Round(math.Abs(ratio) * 100))
	if ratio > 0 {
		return models.Comparison{Kind: models.ComparisonHigherEffort, Bucket: bucket, Percent: pct, AvgHR: b.AvgHR}, nil
	}
	return models.Comparison{Kind: models.ComparisonLowerEffort, Bucket: bucket, Percent: pct, AvgHR: b.AvgHR}, nil
}

// RebuildBaselines recomputes every bucket from the committed, non-deleted
// sessions in creation order. Recovery path after the local store had to be
// reinitialized.
func (e *Engine) RebuildBaselines() error {
	sessions, err := e.store.ListAllSessions()
	if err != nil {
		return fmt.Errorf("rebuild baselines: %w", err)
	}

	type acc struct {
		sum   float64
		count int
	}
	totals := make(map[models.Bucket]*acc)
	for i := range sessions {
		s := &sessions[i]
		if s.Deleted() || s.AvgHR <= 0 {
			continue
		}
		bucket := s.Bucket()
		if totals[bucket] == nil {
			totals[bucket] = &acc{}
		}
		totals[bucket].sum += s.AvgHR
		totals[bucket].count++
	}

	for bucket, t := range totals {
		b := models.Baseline{
			Bucket:       bucket,
			AvgHR:        t.sum / float64(t.count),
			SessionCount: t.count,
		}
		if err := e.store.SaveBaseline(&b); err != nil {
			return fmt.Errorf("rebuild baseline %s: %w", bucket, err)
		}
	}

	slog.Info("baselines rebuilt", "buckets", len(totals))
	return nil
}
