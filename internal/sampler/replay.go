package sampler

import (
	"context"
	"sync"
	"time"

	"github.com/example/delivery-tracking/internal/models"
)

// Step is one scripted event in a replay feed: either a sample or an error.
type Step struct {
	Sample models.PositionSample
	Err    error
	Delay  time.Duration
}

// Replay serves a scripted sequence of fixes. Used by the reference client
// and by tests; each Watch call restarts the script from the beginning.
type Replay struct {
	Steps []Step
	Loop  bool
}

func (r *Replay) SampleOnce(ctx context.Context) (models.PositionSample, error) {
	ctx, cancel := context.WithTimeout(ctx, SingleShotTimeout)
	defer cancel()
	for _, st := range r.Steps {
		if st.Err != nil {
			continue
		}
		select {
		case <-ctx.Done():
			return models.PositionSample{}, Errorf(CodeTimeout, "single-shot fix: %v", ctx.Err())
		default:
		}
		s := st.Sample
		s.CapturedAt = time.Now()
		return s, nil
	}
	return models.PositionSample{}, Errorf(CodePositionUnavailable, "replay script has no fixes")
}

func (r *Replay) Watch(onSample func(models.PositionSample), onError func(error)) (Subscription, error) {
	if len(r.Steps) == 0 {
		return nil, Errorf(CodeUnsupported, "replay script is empty")
	}
	sub := &replaySub{stop: make(chan struct{})}
	go r.run(sub, onSample, onError)
	return sub, nil
}

func (r *Replay) run(sub *replaySub, onSample func(models.PositionSample), onError func(error)) {
	for {
		for _, st := range r.Steps {
			if st.Delay > 0 {
				select {
				case <-sub.stop:
					return
				case <-time.After(st.Delay):
				}
			} else {
				select {
				case <-sub.stop:
					return
				default:
				}
			}
			if st.Err != nil {
				onError(st.Err)
				continue
			}
			s := st.Sample
			if s.CapturedAt.IsZero() {
				s.CapturedAt = time.Now()
			}
			onSample(s)
		}
		if !r.Loop {
			return
		}
	}
}

type replaySub struct {
	stop chan struct{}
	once sync.Once
}

func (s *replaySub) Cancel() { s.once.Do(func() { close(s.stop) }) }
