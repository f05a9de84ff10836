package scanner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/noah-isme/card-audit-agent/internal/models"
)

// DefaultReadTimeout bounds a single tag read.
const DefaultReadTimeout = 2500 * time.Millisecond

// Reader performs one tag read. It must return promptly once ctx is done.
type Reader interface {
	Read(ctx context.Context) (models.TagRead, error)
}

// ReaderFunc adapts a function to Reader.
type ReaderFunc func(ctx context.Context) (models.TagRead, error)

// Read implements Reader.
func (f ReaderFunc) Read(ctx context.Context) (models.TagRead, error) {
	return f(ctx)
}

type inflight struct {
	token  uint64
	cancel context.CancelFunc
}

// Coordinator keeps at most one scan in flight per input channel. Starting a scan cancels
// the previous one on the same channel, including any verification it is still running.
type Coordinator struct {
	timeout time.Duration

	mu       sync.Mutex
	seq      uint64
	inflight map[string]inflight
}

// NewCoordinator builds a coordinator. A non-positive timeout uses DefaultReadTimeout.
func NewCoordinator(timeout time.Duration) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	return &Coordinator{timeout: timeout, inflight: make(map[string]inflight)}
}

// Claim is a scan's hold on a channel. Its context is cancelled as soon as a newer scan
// starts on the same channel. Release must be called once the scan is finished.
type Claim struct {
	c       *Coordinator
	channel string
	token   uint64
	ctx     context.Context
	cancel  context.CancelFunc
}

// Begin claims channel for a new scan and cancels the previous claim.
func (c *Coordinator) Begin(ctx context.Context, channel string) *Claim {
	claimCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if prev, ok := c.inflight[channel]; ok {
		prev.cancel()
	}
	c.seq++
	token := c.seq
	c.inflight[channel] = inflight{token: token, cancel: cancel}
	c.mu.Unlock()

	return &Claim{c: c, channel: channel, token: token, ctx: claimCtx, cancel: cancel}
}

// Context is cancelled when the claim is superseded or released.
func (cl *Claim) Context() context.Context {
	return cl.ctx
}

// Current reports whether the claim still owns its channel.
func (cl *Claim) Current() bool {
	cl.c.mu.Lock()
	defer cl.c.mu.Unlock()
	current, ok := cl.c.inflight[cl.channel]
	return ok && current.token == cl.token
}

// Release gives the channel up if the claim still owns it.
func (cl *Claim) Release() {
	cl.c.mu.Lock()
	if current, ok := cl.c.inflight[cl.channel]; ok && current.token == cl.token {
		delete(cl.c.inflight, cl.channel)
	}
	cl.c.mu.Unlock()
	cl.cancel()
}

// Read runs reader under the read timeout and classifies the result. Only a COMPLETED
// status may be acted upon; a superseded read is reported even if the reader returned data.
func (cl *Claim) Read(reader Reader) (models.TagRead, models.ScanStatus, error) {
	readCtx, cancel := context.WithTimeout(cl.ctx, cl.c.timeout)
	defer cancel()

	read, err := reader.Read(readCtx)

	switch {
	case !cl.Current():
		return models.TagRead{}, models.ScanSuperseded, nil
	case err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(readCtx.Err(), context.DeadlineExceeded)):
		return models.TagRead{}, models.ScanTimeout, err
	case err != nil:
		return models.TagRead{}, models.ScanReadFailed, err
	case models.NormalizeCardID(read.CardID) == "":
		return read, models.ScanNoCardID, nil
	default:
		read.CardID = models.NormalizeCardID(read.CardID)
		return read, models.ScanCompleted, nil
	}
}

// Read claims channel, runs one read and releases the channel.
func (c *Coordinator) Read(ctx context.Context, channel string, reader Reader) (models.TagRead, models.ScanStatus, error) {
	claim := c.Begin(ctx, channel)
	defer claim.Release()
	return claim.Read(reader)
}

// Cancel aborts the in-flight scan on channel, if any.
func (c *Coordinator) Cancel(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok := c.inflight[channel]
	if ok {
		prev.cancel()
		delete(c.inflight, channel)
	}
	return ok
}

// InFlight reports the number of channels with a pending scan.
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}
