package build

import (
	"sync"
	"time"
)

// BuildMetrics tracks the builds run by a pipeline.
type BuildMetrics struct {
	TotalBuilds      int64
	SuccessfulBuilds int64
	FailedBuilds     int64
	TotalEntries     int64
	LastEntries      int
	LastSize         int64
	LastError        string
	AverageDuration  time.Duration
	TotalDuration    time.Duration
	mutex            sync.RWMutex
}

// NewBuildMetrics creates a new build metrics tracker.
func NewBuildMetrics() *BuildMetrics {
	return &BuildMetrics{}
}

// RecordBuild records the outcome of one build.
func (bm *BuildMetrics) RecordBuild(result *Result, err error, duration time.Duration) {
	bm.mutex.Lock()
	defer bm.mutex.Unlock()

	bm.TotalBuilds++
	bm.TotalDuration += duration
	bm.AverageDuration = bm.TotalDuration / time.Duration(bm.TotalBuilds)

	if err != nil || result == nil {
		bm.FailedBuilds++
		if err != nil {
			bm.LastError = err.Error()
		}
		return
	}

	bm.SuccessfulBuilds++
	bm.TotalEntries += int64(result.Entries)
	bm.LastEntries = result.Entries
	bm.LastSize = result.Size
	bm.LastError = ""
}

// GetSnapshot returns a copy of the current metrics.
func (bm *BuildMetrics) GetSnapshot() BuildMetrics {
	bm.mutex.RLock()
	defer bm.mutex.RUnlock()

	return BuildMetrics{
		TotalBuilds:      bm.TotalBuilds,
		SuccessfulBuilds: bm.SuccessfulBuilds,
		FailedBuilds:     bm.FailedBuilds,
		TotalEntries:     bm.TotalEntries,
		LastEntries:      bm.LastEntries,
		LastSize:         bm.LastSize,
		LastError:        bm.LastError,
		AverageDuration:  bm.AverageDuration,
		TotalDuration:    bm.TotalDuration,
	}
}

// GetSuccessRate returns the success rate as a percentage.
func (bm *BuildMetrics) GetSuccessRate() float64 {
	bm.mutex.RLock()
	defer bm.mutex.RUnlock()

	if bm.TotalBuilds == 0 {
		return 0.0
	}

	return float64(bm.SuccessfulBuilds) / float64(bm.TotalBuilds) * 100.0
}
