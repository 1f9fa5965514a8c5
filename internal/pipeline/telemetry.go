package pipeline

import (
	"sync"
	"time"

	"github.com/placefinder/querycore/core/pipelineerr"
	"github.com/placefinder/querycore/internal/model"
)

// perfRecorder accumulates one request's telemetry. Stages running
// concurrently record through the same instance, so it is locked.
type perfRecorder struct {
	mu        sync.Mutex
	requestID string
	start     time.Time
	steps     []model.StepRecord
	errors    []string
	modelCall int
	cacheHits int
	critical  bool
}

func newPerfRecorder(requestID string, start time.Time) *perfRecorder {
	return &perfRecorder{requestID: requestID, start: start}
}

// step records a completed stage. A non-nil err is non-fatal; critical
// kinds flip the partial-results determination.
func (p *perfRecorder) step(name string, began time.Time, fromCache bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	record := model.StepRecord{
		Name:       name,
		DurationMS: time.Since(began).Milliseconds(),
		FromCache:  fromCache,
	}
	if err != nil {
		record.Error = err.Error()
		p.errors = append(p.errors, name+": "+err.Error())
		if pipelineerr.Critical(pipelineerr.KindOf(err)) {
			p.critical = true
		}
	}
	p.steps = append(p.steps, record)
}

func (p *perfRecorder) addError(name string, err error) {
	if err == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errors = append(p.errors, name+": "+err.Error())
	if pipelineerr.Critical(pipelineerr.KindOf(err)) {
		p.critical = true
	}
}

func (p *perfRecorder) countModelCalls(n int) {
	p.mu.Lock()
	p.modelCall += n
	p.mu.Unlock()
}

func (p *perfRecorder) countCacheHit() {
	p.mu.Lock()
	p.cacheHits++
	p.mu.Unlock()
}

// finish assembles the Performance record. partial is true when an error
// was recorded and either one was of a critical kind or no results came back.
func (p *perfRecorder) finish(resultCount int) model.Performance {
	p.mu.Lock()
	defer p.mu.Unlock()

	return model.Performance{
		RequestID:      p.requestID,
		Steps:          append([]model.StepRecord(nil), p.steps...),
		ModelCalls:     p.modelCall,
		CacheHits:      p.cacheHits,
		Errors:         append([]string(nil), p.errors...),
		PartialResults: len(p.errors) > 0 && (p.critical || resultCount == 0),
		TotalMS:        time.Since(p.start).Milliseconds(),
	}
}
