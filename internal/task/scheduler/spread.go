package scheduler

import (
	"hash/fnv"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// firstRunSchedule overrides the first fire time and then follows base.
type firstRunSchedule struct {
	base  cron.Schedule
	first time.Time
}

func (s *firstRunSchedule) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

var spreadSeq atomic.Uint64

// intervalSchedule returns an @every schedule whose first run lands one interval
// plus a random jitter in [0, min(maxSpread, every)) after now.
func intervalSchedule(every time.Duration, now time.Time, maxSpread time.Duration, tag string) (cron.Schedule, time.Duration) {
	base := cron.Every(every)
	limit := every
	if maxSpread < limit {
		limit = maxSpread
	}
	if limit <= 0 {
		return base, 0
	}
	seed := time.Now().UnixNano() ^ int64(spreadSeq.Add(1)) ^ int64(fnv64a(tag))
	jitter := time.Duration(rand.New(rand.NewSource(seed)).Int63n(int64(limit)))
	return &firstRunSchedule{base: base, first: now.Add(every + jitter)}, jitter
}

func fnv64a(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
