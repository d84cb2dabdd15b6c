// Package trainer adapts the Store Gateway and Anomaly Model into the
// httpserver.Trainer interface /api/ml/train calls: pull recent event
// feature vectors, fit a fresh isolation forest, and hot-swap it into
// the holder the pipeline scores against.
package trainer

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/arc-sentinel/sentinel/internal/anomaly"
	"github.com/arc-sentinel/sentinel/internal/store"
	"github.com/arc-sentinel/sentinel/pkg/metrics"
)

// Adapter retrains the anomaly model from recent stored events.
type Adapter struct {
	Store        store.Gateway
	Holder       *anomaly.Holder
	NumTrees     int
	Threshold    float64
	MinTrainSize int
	SampleLimit  int
}

func New(st store.Gateway, holder *anomaly.Holder, numTrees int, threshold float64, minTrainSize int) *Adapter {
	return &Adapter{
		Store:        st,
		Holder:       holder,
		NumTrees:     numTrees,
		Threshold:    threshold,
		MinTrainSize: minTrainSize,
		SampleLimit:  5000,
	}
}

// Train satisfies httpserver.Trainer. It lists up to SampleLimit recent
// events (the store returns at most 500 per listing), takes the stored
// feature vectors of the enriched ones, trains a new model, persists
// its serialized blob, and swaps it into Holder — matching spec.md
// §4.5's "retraining never blocks in-flight scoring" requirement via
// the holder's atomic pointer swap.
func (a *Adapter) Train(ctx context.Context) (int, error) {
	events, err := a.Store.ListEvents(ctx, a.SampleLimit, store.EventFilters{})
	if err != nil {
		return 0, err
	}

	vectors := make([][]float64, 0, len(events))
	for _, ev := range events {
		if !ev.Enriched {
			continue
		}
		vectors = append(vectors, ev.Features.Vector())
	}

	model, err := anomaly.Train(vectors, a.NumTrees, a.Threshold, a.MinTrainSize)
	if err != nil {
		return 0, err
	}

	a.Holder.Store(model)
	metrics.MLTrainSamples.Set(float64(len(vectors)))

	blob, err := model.Marshal()
	if err != nil {
		log.Error().Err(err).Msg("trainer: marshal trained model failed")
		return len(vectors), nil
	}
	if err := a.Store.SaveModelBlob(ctx, blob, time.Now().UTC()); err != nil {
		log.Error().Err(err).Msg("trainer: persist model blob failed")
	}

	return len(vectors), nil
}
