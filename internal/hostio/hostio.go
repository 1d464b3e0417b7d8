// Package hostio implements the host-side request shim from spec.md §4.4:
// it accepts an opaque (LPN range, op, arrival tick) host submission,
// splits it into per-LPN ICL sub-requests each tagged with a request id and
// sub-request sequence number, and aggregates their completion ticks into
// one overall finish tick.
//
// Grounded on internal/storage/uuid_helpers.go for request identity and on
// internal/storage/concurrency.go's per-transaction id issuance for the
// sub-request numbering scheme.
package hostio

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/SimonWaldherr/ssdsim/internal/icl"
	"github.com/SimonWaldherr/ssdsim/internal/simerr"
	"github.com/SimonWaldherr/ssdsim/internal/tracelog"
)

// Op names the host operation kind spec.md §6's submitIO accepts.
type Op int

const (
	OpRead Op = iota
	OpWrite
	OpFlush
	OpTrim
)

func (o Op) String() string {
	switch o {
	case OpRead:
		return "READ"
	case OpWrite:
		return "WRITE"
	case OpFlush:
		return "FLUSH"
	case OpTrim:
		return "TRIM"
	default:
		return "UNKNOWN"
	}
}

// ParseOp parses a host opcode string.
func ParseOp(s string) (Op, error) {
	switch s {
	case "READ":
		return OpRead, nil
	case "WRITE":
		return OpWrite, nil
	case "FLUSH":
		return OpFlush, nil
	case "TRIM":
		return OpTrim, nil
	default:
		return 0, fmt.Errorf("%w: unknown opcode %q", simerr.ErrInvalidOpcode, s)
	}
}

// Shim splits host-level LPN-range submissions into per-LPN ICL requests.
type Shim struct {
	cache   *icl.ICL
	log     *tracelog.Logger
	pageSize uint64

	nextSubID uint64
}

// New builds a Shim fronting cache.
func New(cache *icl.ICL, pageSize uint64, lg *tracelog.Logger) *Shim {
	return &Shim{cache: cache, pageSize: pageSize, log: lg}
}

// Submit accepts one host request spanning LPNs [lpn, lpn+nblocks), splits
// it into nblocks per-LPN sub-requests tagged (reqID, reqSubID), and returns
// the maximum completion tick across all of them — spec.md §4.4's "implicit
// parallel dispatch model at this layer; timing contention ... resolved
// within PAL, not here."
func (s *Shim) Submit(op Op, lpn, nblocks, arrival uint64) (uint64, error) {
	if nblocks == 0 {
		return arrival, nil
	}
	reqID := s.issueRequestID()
	finish := arrival

	for i := uint64(0); i < nblocks; i++ {
		subLPN := lpn + i
		byteStart := i * s.pageSize
		var (
			fin uint64
			err error
		)
		switch op {
		case OpRead:
			fin, err = s.cache.Read(reqID, subLPN, byteStart, s.pageSize, arrival)
		case OpWrite:
			fin, err = s.cache.Write(subLPN, arrival)
		case OpFlush:
			fin, err = s.cache.Flush(subLPN, arrival)
		case OpTrim:
			fin, err = s.cache.Trim(subLPN, arrival)
		default:
			return arrival, fmt.Errorf("%w: %v", simerr.ErrInvalidOpcode, op)
		}
		if err != nil {
			return finish, err
		}
		if fin > finish {
			finish = fin
		}
		s.log.Debug("sub-request reqID=%d subID=%d lpn=%d op=%s arrival=%d finish=%d", reqID, i, subLPN, op, arrival, fin)
	}

	return finish, nil
}

// issueRequestID hands out a dense, monotonically increasing id used only
// to correlate a request's sub-requests for the prefetch detector. Submit
// attaches no UUID to a request; TraceID is a separate helper.
func (s *Shim) issueRequestID() uint64 {
	s.nextSubID++
	return s.nextSubID
}

// TraceID returns a fresh UUID for external trace correlation of one host
// submission, independent of the dense reqID used internally for prefetch
// stream matching.
func TraceID() string {
	return uuid.New().String()
}
