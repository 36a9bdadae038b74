package session

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/benbjohnson/clock"
)

// Session holds the state of one ping run: the identifier stamped on every
// request, the next sequence number and the delivery counters. It is owned
// by the probe loop and is not safe for concurrent use.
type Session struct {
	id      uint16
	nextSeq uint16
	clock   clock.Clock

	startedAt time.Time
	sent      int
	replied   int
	lost      int

	minRTT time.Duration
	maxRTT time.Duration
	sumRTT time.Duration
	sumSq  float64 // sum of squared RTTs in ns², for the standard deviation
}

// Statistics summarises a session.
type Statistics struct {
	Sent        int
	Replied     int
	Lost        int
	LossPercent float64
	MinRTT      time.Duration
	AvgRTT      time.Duration
	MaxRTT      time.Duration
	StdDevRTT   time.Duration
	Elapsed     time.Duration
}

// RandomID returns a random 16-bit identifier for a new session.
func RandomID() uint16 {
	return uint16(rand.Uint32())
}

// New starts a session with the given identifier. Sequence numbers start
// at 0. A nil clock means the wall clock.
func New(id uint16, clk clock.Clock) *Session {
	if clk == nil {
		clk = clock.New()
	}
	return &Session{
		id:        id,
		clock:     clk,
		startedAt: clk.Now(),
	}
}

// ID returns the session identifier.
func (s *Session) ID() uint16 {
	return s.id
}

// Clock returns the clock the session measures time with.
func (s *Session) Clock() clock.Clock {
	return s.clock
}

// NextSequence returns the current sequence number and advances it,
// wrapping at 65536.
func (s *Session) NextSequence() uint16 {
	seq := s.nextSeq
	s.nextSeq++
	return seq
}

// RecordReply counts a probe answered after rtt.
func (s *Session) RecordReply(rtt time.Duration) {
	s.sent++
	s.replied++

	if s.replied == 1 || rtt < s.minRTT {
		s.minRTT = rtt
	}
	if rtt > s.maxRTT {
		s.maxRTT = rtt
	}
	s.sumRTT += rtt
	s.sumSq += float64(rtt) * float64(rtt)
}

// RecordLoss counts a probe that got no reply: timed out, unreachable,
// failed to send or answered with a corrupt packet.
func (s *Session) RecordLoss() {
	s.sent++
	s.lost++
}

// Statistics returns the counters and RTT aggregates so far. Loss is 100%
// when nothing was sent.
func (s *Session) Statistics() Statistics {
	st := Statistics{
		Sent:        s.sent,
		Replied:     s.replied,
		Lost:        s.lost,
		LossPercent: 100,
		Elapsed:     s.clock.Since(s.startedAt),
	}
	if s.sent > 0 {
		st.LossPercent = float64(s.sent-s.replied) / float64(s.sent) * 100
	}
	if s.replied > 0 {
		n := float64(s.replied)
		mean := float64(s.sumRTT) / n
		variance := s.sumSq/n - mean*mean
		if variance < 0 {
			variance = 0
		}
		st.MinRTT = s.minRTT
		st.MaxRTT = s.maxRTT
		st.AvgRTT = time.Duration(mean)
		st.StdDevRTT = time.Duration(math.Sqrt(variance))
	}
	return st
}
