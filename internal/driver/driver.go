// Package driver implements C5, the link driver: the single-threaded
// cooperative loop from spec.md §4.5 that pumps bytes between the adapter
// transport and the codec/framer/TX-engine core, and surfaces prepared
// outbound bytes and prepared RX payloads to the broker collaborator.
package driver

import (
	"context"
	"log"
	"time"

	"golang.org/x/time/rate"

	"github.com/makischu/ebusd-light-B5/internal/adapter"
	"github.com/makischu/ebusd-light-B5/internal/broker"
	"github.com/makischu/ebusd-light-B5/internal/ebus"
)

// drainBufSize bounds one Adapter.Drain call; the adapter link never bursts
// more than a handful of enhanced pairs between loop iterations in practice.
const drainBufSize = 256

// loopPeriod is how long Run sleeps between iterations once an iteration has
// found nothing left to do; it is the "yield" of spec.md §4.5 step 5.
const loopPeriod = 2 * time.Millisecond

// Driver owns the single-threaded loop described in spec.md §4.5. Nothing
// inside it is safe for concurrent use from more than one goroutine: C3's
// framer, C4's TX engine and the decoder states are all driver-owned, per
// §5.
type Driver struct {
	adapter *adapter.Adapter
	broker  *broker.Broker

	framer *ebus.Framer
	tx     *ebus.TxEngine

	enhDecoder ebus.EnhancedDecoder
	escDecoder ebus.EscapeDecoder

	pending   ebus.Telegram // the one-deep RX publish slot
	diagLimit *rate.Limiter
	drainBuf  []byte
}

// New wires an adapter, a broker and the TX-engine timeouts into a Driver.
func New(a *adapter.Adapter, b *broker.Broker, timeouts ebus.Timeouts) *Driver {
	return &Driver{
		adapter:   a,
		broker:    b,
		framer:    ebus.NewFramer(),
		tx:        ebus.NewTxEngine(timeouts),
		diagLimit: rate.NewLimiter(rate.Every(time.Second), 1),
		drainBuf:  make([]byte, drainBufSize),
	}
}

// Counters exposes the framer's ok/bad telegram counts for observability.
func (d *Driver) Counters() (ok, bad int) { return d.framer.OkCount, d.framer.BadCount }

// Run executes the cooperative loop until ctx is cancelled or a transport
// error is deemed unrecoverable, at which point it returns that error for
// the caller's restart-supervision collaborator to act on.
func (d *Driver) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := d.step(time.Now()); err != nil {
			return err
		}
		time.Sleep(loopPeriod)
	}
}

// step runs exactly one iteration of the ordering fixed by §5: request
// ingest → RX publish → adapter drain → TX emit.
func (d *Driver) step(now time.Time) error {
	d.ingestRequest(now)
	d.publishPending()
	if err := d.drainAdapter(now); err != nil {
		return err
	}
	return d.emitOutbound(now)
}

// ingestRequest polls the broker for a decoded inbound request. A request
// arriving while TX is busy is dropped with a rate-limited diagnostic, per
// §5's "rejected immediately, no queueing."
func (d *Driver) ingestRequest(now time.Time) {
	select {
	case tg := <-d.broker.Requests():
		if err := d.tx.Submit(tg, now); err != nil {
			d.logLimited("dropping request %s: %v", tg, err)
		}
	default:
	}
}

// publishPending hands the one-deep RX slot to the broker. On publish
// failure the payload is kept for the next iteration's retry rather than
// dropped.
func (d *Driver) publishPending() {
	if d.pending == nil {
		return
	}
	if err := d.broker.Publish(d.pending); err != nil {
		d.logLimited("publish failed, will retry: %v", err)
		return
	}
	d.pending = nil
}

// drainAdapter reads whatever bytes are currently available and feeds them
// through C2 (enhanced decode, then escape decode) into C3 (the framer) and
// C4 (TX echo/arbitration observation). The drain stops early once the
// one-deep RX slot fills, per §4.5 step 3, so a second plausible telegram
// never silently overwrites the first.
func (d *Driver) drainAdapter(now time.Time) error {
	raw, err := d.adapter.Drain(d.drainBuf)
	if err != nil {
		return err
	}
	for _, b := range raw {
		decoded, forward, event := d.enhDecoder.Decode(b)
		if !forward {
			continue
		}
		octet, ok := d.escDecoder.Decode(decoded)
		if !ok {
			continue
		}

		if telegram, plausible := d.framer.Feed(octet); plausible {
			if d.pending == nil {
				d.pending = telegram
			} else {
				d.logLimited("dropping RX telegram %s, publish slot full", telegram)
			}
		}

		d.tx.ObserveEcho(octet)
		if event != ebus.EventNone {
			d.tx.ObserveArbitration(event)
		}

		if d.pending != nil {
			// Force publish-before-more-decode: stop draining this
			// iteration so the next iteration's step 2 has a chance to
			// clear the slot before we risk overflowing it again.
			break
		}
	}
	return nil
}

// emitOutbound asks C4 to advance and writes whatever it prepared to the
// adapter.
func (d *Driver) emitOutbound(now time.Time) error {
	out := d.tx.Tick(now)
	if len(out) == 0 {
		return nil
	}
	return d.adapter.Write(out)
}

func (d *Driver) logLimited(format string, args ...interface{}) {
	if d.diagLimit.Allow() {
		log.Printf("driver: "+format, args...)
	}
}
