package stream

import (
	"errors"
	"sync/atomic"

	"github.com/arloliu/go-labemu/pattern"
)

// SessionMetrics contains atomic metrics for a session.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type SessionMetrics struct {
	// RequestCount indicates the number of requests read, enquiries included.
	RequestCount atomic.Uint64
	// ReplyCount indicates the number of replies written, acknowledgements included.
	ReplyCount atomic.Uint64
	// EnquiryCount indicates the number of enquiry requests.
	EnquiryCount atomic.Uint64
	// NoMatchCount indicates the number of requests without a matching command.
	NoMatchCount atomic.Uint64
	// DecodeErrCount indicates the number of argument decode failures.
	DecodeErrCount atomic.Uint64
	// HandlerErrCount indicates the number of failing handlers and other dispatch errors.
	HandlerErrCount atomic.Uint64
	// DroppedFrameCount indicates the number of partial or oversized frames discarded.
	DroppedFrameCount atomic.Uint64
}

func (m *SessionMetrics) incRequestCount() {
	m.RequestCount.Add(1)
}

func (m *SessionMetrics) incReplyCount() {
	m.ReplyCount.Add(1)
}

func (m *SessionMetrics) incEnquiryCount() {
	m.EnquiryCount.Add(1)
}

func (m *SessionMetrics) incDroppedFrameCount() {
	m.DroppedFrameCount.Add(1)
}

func (m *SessionMetrics) countError(err error) {
	var decodeErr *pattern.ArgumentDecodeError
	switch {
	case errors.Is(err, ErrNoMatch):
		m.NoMatchCount.Add(1)
	case errors.As(err, &decodeErr):
		m.DecodeErrCount.Add(1)
	default:
		m.HandlerErrCount.Add(1)
	}
}
