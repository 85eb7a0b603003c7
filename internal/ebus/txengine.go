package ebus

import (
	"time"

	"github.com/pkg/errors"
)

// This file implements C4, the TX engine: the state machine that drives one
// outgoing master request through arbitration, byte-paced sending, ACK and
// response capture. It is modeled directly on `charsPreparedTCP` in
// original_source/ebusd-light.cpp, with the C enum's ten states kept in the
// same order and the same numeric comparisons (`sendState >= SENDDATA`) that
// original relies on.

// state is the TX engine's position in the §4.4 state table.
type state int

const (
	stateIdle state = iota
	stateStart
	stateArbInit
	stateArbWait
	stateSendData
	stateAwaitAck
	stateAwaitResp
	stateSendAck
	stateSendSyn
	stateFinished
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "IDLE"
	case stateStart:
		return "START"
	case stateArbInit:
		return "ARB_INIT"
	case stateArbWait:
		return "ARB_WAIT"
	case stateSendData:
		return "SENDDATA"
	case stateAwaitAck:
		return "AWAITACK"
	case stateAwaitResp:
		return "AWAITRESP"
	case stateSendAck:
		return "SENDACK"
	case stateSendSyn:
		return "SENDSYN"
	case stateFinished:
		return "FINISHED"
	default:
		return "UNKNOWN"
	}
}

// arbState is the tri-state arbitration outcome latched while in ARB_WAIT.
type arbState int

const (
	arbPending arbState = iota
	arbWon
	arbLost
)

// Timeouts carries the four durations the TX engine waits on. Field names
// match the configuration keys in SPEC_FULL.md §10/§14 so internal/config can
// populate this directly.
type Timeouts struct {
	ArbitrationTimeout time.Duration
	AckTimeout         time.Duration
	ResponseTimeout    time.Duration
	BroadcastSettle    time.Duration
}

// DefaultTimeouts matches the original's hardcoded 1-second state timeouts
// and its 10 ms broadcast settle delay.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		ArbitrationTimeout: time.Second,
		AckTimeout:         time.Second,
		ResponseTimeout:    time.Second,
		BroadcastSettle:    10 * time.Millisecond,
	}
}

// ErrBusy is returned by Submit when the TX engine is already driving a
// request; per §3, a new request arriving while not idle is dropped.
var ErrBusy = errors.New("ebus: tx engine busy, request dropped")

// TxEngine is the polled TX state machine. It owns no I/O: ObserveEcho and
// ObserveArbitration are fed by the driver as the RX side decodes the bus
// stream, and Tick advances the state machine and returns whatever octets
// should be written to the adapter this iteration. Nothing here needs a
// mutex; the driver calls every method from a single goroutine (§5).
type TxEngine struct {
	cfg Timeouts

	state      state
	lastChange time.Time

	req      Telegram // T: the raw request as submitted
	expanded []byte   // T_e: escape-expanded
	enhanced []byte   // T_ee: enhanced two-octets-per-octet encoding of T_e
	index    int      // next unsent offset into enhanced

	rx  Telegram // T_rx: echo of what the adapter reports back
	arb arbState
}

// NewTxEngine returns an idle TX engine using the given timeouts.
func NewTxEngine(cfg Timeouts) *TxEngine {
	return &TxEngine{cfg: cfg, state: stateIdle}
}

// IsIdle reports whether the engine can accept a new request.
func (e *TxEngine) IsIdle() bool { return e.state == stateIdle }

// State returns the engine's current state, for logging and observability.
func (e *TxEngine) State() string { return e.state.String() }

// Submit latches t as the next telegram to send and moves the engine to
// START. It fails with ErrBusy if the engine is not idle; per §3 the caller
// drops the request and logs a diagnostic rather than queuing it.
func (e *TxEngine) Submit(t Telegram, now time.Time) error {
	if e.state != stateIdle {
		return ErrBusy
	}
	e.req = t
	e.rx = e.rx[:0]
	e.index = 0
	e.arb = arbPending
	e.transition(stateStart, now)
	return nil
}

// ObserveEcho appends one decoded raw bus octet to T_rx, but only once the
// engine has entered SENDDATA or later: before that the arbitration handling
// seeds T_rx itself (ARB_INIT) and ARB_WAIT reacts to arbitration events
// rather than accumulated bytes. Overflow past MaxTelegramLen is dropped
// silently, mirroring the fixed-size accumulator in the original.
func (e *TxEngine) ObserveEcho(b byte) {
	if e.state < stateSendData {
		return
	}
	if len(e.rx) >= MaxTelegramLen {
		return
	}
	e.rx = append(e.rx, b)
}

// ObserveArbitration latches an arbitration outcome reported by the enhanced
// decoder while the engine is in ARB_WAIT. Events reported in any other
// state are stale and ignored.
func (e *TxEngine) ObserveArbitration(event ArbitrationEvent) {
	if e.state != stateArbWait {
		return
	}
	switch event {
	case EventWon:
		e.arb = arbWon
	case EventLost:
		e.arb = arbLost
	}
}

// transition moves to next and stamps the time of the change; every timeout
// in the state table is measured from this stamp.
func (e *TxEngine) transition(next state, now time.Time) {
	e.state = next
	e.lastChange = now
}

// Tick advances the state machine by one driver-loop iteration and returns
// whatever enhanced-framed octets should be written to the adapter this
// iteration (nil most of the time). now is the driver's current time, passed
// in rather than read from the clock so the engine stays deterministic and
// testable.
func (e *TxEngine) Tick(now time.Time) []byte {
	switch e.state {
	case stateIdle:
		return nil

	case stateStart:
		return e.tickStart(now)

	case stateArbInit:
		return e.tickArbInit(now)

	case stateArbWait:
		return e.tickArbWait(now)

	case stateSendData:
		return e.tickSendData(now)

	case stateAwaitAck:
		return e.tickAwaitAck(now)

	case stateAwaitResp:
		return e.tickAwaitResp(now)

	case stateSendAck:
		return e.tickSendAck(now)

	case stateSendSyn:
		pair := EnhancedPair(SYN, cmdReceived)
		e.transition(stateFinished, now)
		return []byte{pair[0], pair[1]}

	case stateFinished:
		e.transition(stateIdle, now)
		return nil
	}
	return nil
}

func (e *TxEngine) tickStart(now time.Time) []byte {
	if !e.req.IsPlausibleTx() {
		e.transition(stateFinished, now)
		return nil
	}
	e.expanded = EscapeExpand(e.req)
	e.enhanced = EnhancedExpand(e.expanded, cmdReceived)
	e.index = 0
	e.transition(stateArbInit, now)
	return nil
}

func (e *TxEngine) tickArbInit(now time.Time) []byte {
	pair := EnhancedPair(e.req.QQ(), cmdArbitrationStart)
	e.arb = arbPending
	e.rx = append(e.rx[:0], e.expanded[0])
	e.transition(stateArbWait, now)
	return []byte{pair[0], pair[1]}
}

func (e *TxEngine) tickArbWait(now time.Time) []byte {
	switch e.arb {
	case arbLost:
		e.transition(stateFinished, now)
	case arbWon:
		// Discard anything that accumulated beyond the confirmed QQ echo.
		e.rx = e.rx[:1]
		e.transition(stateSendData, now)
	default:
		if now.Sub(e.lastChange) > e.cfg.ArbitrationTimeout {
			e.transition(stateFinished, now)
		}
	}
	return nil
}

func (e *TxEngine) tickSendData(now time.Time) []byte {
	if now.Sub(e.lastChange) > e.cfg.ArbitrationTimeout {
		e.transition(stateFinished, now)
		return nil
	}
	if e.index == 0 {
		// The QQ pair was already emitted by ARB_INIT; resume past it.
		e.index = 2
		return nil
	}
	if e.index >= len(e.enhanced) {
		e.transition(stateAwaitAck, now)
		return nil
	}
	if len(e.rx)*2 < e.index {
		return nil
	}
	out := []byte{e.enhanced[e.index], e.enhanced[e.index+1]}
	e.index += 2
	return out
}

func (e *TxEngine) tickAwaitAck(now time.Time) []byte {
	if e.req.ZZ() == BroadcastAddr {
		if now.Sub(e.lastChange) > e.cfg.BroadcastSettle {
			e.transition(stateSendSyn, now)
		}
		return nil
	}
	if len(e.rx) >= len(e.req)+1 {
		ak := e.rx[len(e.req)]
		if ak == ACK {
			e.transition(stateAwaitResp, now)
		} else {
			// NAK or anything else: no retry, per §1 Non-goals.
			e.transition(stateSendSyn, now)
		}
		return nil
	}
	if now.Sub(e.lastChange) > e.cfg.AckTimeout {
		e.transition(stateFinished, now)
	}
	return nil
}

func (e *TxEngine) tickAwaitResp(now time.Time) []byte {
	if IsMasterAddress(e.req.ZZ()) {
		// Another master was addressed; no content expected from it.
		e.transition(stateSendSyn, now)
		return nil
	}
	if ready, _ := ResponseReady(e.rx, len(e.req)); ready {
		e.transition(stateSendAck, now)
		return nil
	}
	if now.Sub(e.lastChange) > e.cfg.ResponseTimeout {
		e.transition(stateFinished, now)
	}
	return nil
}

func (e *TxEngine) tickSendAck(now time.Time) []byte {
	var pair [2]byte
	if VerifySlaveResponse(e.rx, len(e.req)) {
		pair = EnhancedPair(ACK, cmdReceived)
		e.transition(stateSendSyn, now)
	} else {
		pair = EnhancedPair(NAK, cmdReceived)
		e.transition(stateFinished, now)
	}
	return []byte{pair[0], pair[1]}
}

// Response returns the slave's response payload (D1'..Dn', without the
// leading ACK/NN' header or the trailing CRC') once one has been fully
// captured. ok is false before SENDACK is reached or if the request's ZZ
// addressed a master (no response expected).
func (e *TxEngine) Response() (data []byte, ok bool) {
	if e.state != stateSendAck && e.state != stateSendSyn && e.state != stateFinished {
		return nil, false
	}
	ready, respLen := ResponseReady(e.rx, len(e.req))
	if !ready || respLen < 3 {
		return nil, false
	}
	nn := respLen - 3
	start := len(e.req) + 2
	return e.rx[start : start+nn], true
}
