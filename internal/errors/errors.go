package errors

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Failure is one recorded region operation failure.
type Failure struct {
	Op        string    `json:"op"`
	X         int32     `json:"x"`
	Y         int32     `json:"y"`
	Type      ErrorType `json:"type"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Error implements the error interface
func (f *Failure) Error() string {
	return fmt.Sprintf("%s (%d,%d): %s: %s", f.Op, f.X, f.Y, f.Code, f.Message)
}

// DefaultFailureCapacity bounds a collector created with a non-positive size.
const DefaultFailureCapacity = 64

// ErrorCollector keeps the most recent region failures for status
// reporting. Once full, the oldest entry is overwritten.
type ErrorCollector struct {
	ring  []Failure
	next  int
	full  bool
	total uint64
	mutex sync.RWMutex
}

// NewErrorCollector creates a new error collector
func NewErrorCollector(capacity int) *ErrorCollector {
	if capacity <= 0 {
		capacity = DefaultFailureCapacity
	}
	return &ErrorCollector{
		ring: make([]Failure, capacity),
	}
}

// Add records a failed operation on region (x, y).
func (ec *ErrorCollector) Add(op string, x, y int32, err error) {
	if err == nil {
		return
	}

	f := Failure{
		Op:        op,
		X:         x,
		Y:         y,
		Type:      "unknown",
		Message:   err.Error(),
		Timestamp: time.Now(),
	}
	var te *TesseraError
	if errors.As(err, &te) {
		f.Type = te.Type
		f.Code = te.Code
		f.Message = te.Message
		if te.Cause != nil {
			f.Message += ": " + te.Cause.Error()
		}
	}

	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.ring[ec.next] = f
	ec.next = (ec.next + 1) % len(ec.ring)
	if ec.next == 0 {
		ec.full = true
	}
	ec.total++
}

// Recent returns the retained failures, oldest first.
func (ec *ErrorCollector) Recent() []Failure {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()

	if !ec.full {
		result := make([]Failure, ec.next)
		copy(result, ec.ring[:ec.next])
		return result
	}
	result := make([]Failure, 0, len(ec.ring))
	result = append(result, ec.ring[ec.next:]...)
	result = append(result, ec.ring[:ec.next]...)
	return result
}

// Total returns how many failures were ever recorded.
func (ec *ErrorCollector) Total() uint64 {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	return ec.total
}

// HasErrors returns true if there are any errors
func (ec *ErrorCollector) HasErrors() bool {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	return ec.total > 0
}

// ForRegion returns retained failures for one region.
func (ec *ErrorCollector) ForRegion(x, y int32) []Failure {
	var out []Failure
	for _, f := range ec.Recent() {
		if f.X == x && f.Y == y {
			out = append(out, f)
		}
	}
	return out
}
