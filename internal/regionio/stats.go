package regionio

import (
	"sync"
	"time"
)

// Kind is the operation a request performs.
type Kind int

const (
	KindLoad Kind = iota
	KindSave
	KindGenerate
	kindCount
)

func (k Kind) String() string {
	switch k {
	case KindLoad:
		return "load"
	case KindSave:
		return "save"
	case KindGenerate:
		return "generate"
	default:
		return "unknown"
	}
}

// Kinds lists every operation kind in display order.
func Kinds() []Kind {
	return []Kind{KindLoad, KindSave, KindGenerate}
}

// Outcome is how a request ended.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeFailed
	OutcomeRejected
	OutcomeAborted
)

// KindStats are the counters of one operation kind. Requests counts every
// request whatever its outcome; Denied counts requests that lost the
// permit race.
type KindStats struct {
	Requests        int64         `json:"requests" yaml:"requests"`
	Denied          int64         `json:"denied" yaml:"denied"`
	Started         int64         `json:"started" yaml:"started"`
	Completed       int64         `json:"completed" yaml:"completed"`
	Failed          int64         `json:"failed" yaml:"failed"`
	Rejected        int64         `json:"rejected" yaml:"rejected"`
	Aborted         int64         `json:"aborted" yaml:"aborted"`
	TotalDuration   time.Duration `json:"total_duration" yaml:"total_duration"`
	AverageDuration time.Duration `json:"average_duration" yaml:"average_duration"`
}

// SuccessRate returns the share of finished requests that completed, as
// a percentage. It is 0 before anything finished.
func (k KindStats) SuccessRate() float64 {
	finished := k.Completed + k.Failed
	if finished == 0 {
		return 0
	}
	return float64(k.Completed) / float64(finished) * 100
}

// InFlight returns requests accepted but not yet finished.
func (k KindStats) InFlight() int64 {
	return k.Requests - k.Denied - k.Completed - k.Failed - k.Rejected - k.Aborted
}

// Metrics tracks per-kind request counters.
type Metrics struct {
	kinds [kindCount]KindStats
	mutex sync.RWMutex
}

// NewMetrics creates a new metrics tracker
func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) RecordRequest(k Kind) {
	m.mutex.Lock()
	m.kinds[k].Requests++
	m.mutex.Unlock()
}

func (m *Metrics) RecordDenied(k Kind) {
	m.mutex.Lock()
	m.kinds[k].Denied++
	m.mutex.Unlock()
}

func (m *Metrics) RecordStart(k Kind) {
	m.mutex.Lock()
	m.kinds[k].Started++
	m.mutex.Unlock()
}

// RecordOutcome records how a request ended and, for requests that ran,
// how long it took.
func (m *Metrics) RecordOutcome(k Kind, o Outcome, d time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	s := &m.kinds[k]
	switch o {
	case OutcomeCompleted:
		s.Completed++
	case OutcomeFailed:
		s.Failed++
	case OutcomeRejected:
		s.Rejected++
	case OutcomeAborted:
		s.Aborted++
	}
	if o == OutcomeCompleted || o == OutcomeFailed {
		s.TotalDuration += d
		if ran := s.Completed + s.Failed; ran > 0 {
			s.AverageDuration = s.TotalDuration / time.Duration(ran)
		}
	}
}

// Snapshot is a copy of every kind's counters.
type Snapshot struct {
	Load     KindStats `json:"load" yaml:"load"`
	Save     KindStats `json:"save" yaml:"save"`
	Generate KindStats `json:"generate" yaml:"generate"`
}

// Of returns the counters for one kind.
func (s Snapshot) Of(k Kind) KindStats {
	switch k {
	case KindLoad:
		return s.Load
	case KindSave:
		return s.Save
	default:
		return s.Generate
	}
}

// GetSnapshot returns a snapshot of current metrics
func (m *Metrics) GetSnapshot() Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return Snapshot{
		Load:     m.kinds[KindLoad],
		Save:     m.kinds[KindSave],
		Generate: m.kinds[KindGenerate],
	}
}
