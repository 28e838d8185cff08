// Package engine implements the issuance engine of spec §4.1: the single
// authority over per-class share inventory and per-class certificate
// numbering. All decisions flow through one goroutine — the "decision
// task" of Design Note §9 — which is the only code in the process
// permitted to touch class state, so no lock is needed around the state
// itself. (The alternative Design Note strategy, a mutex held across the
// journal sync, is equally correct; we take the channel approach because it
// makes the single-writer invariant structural rather than disciplinary.)
package engine

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/trace"

	"github.com/aconrad/pulley-interview/internal/journal"
	"github.com/aconrad/pulley-interview/internal/wire"
)

// ClassConfig is one configured (class_tag, authorized_shares) pair,
// fixed for the lifetime of the engine process (spec §3).
type ClassConfig struct {
	Tag        string
	Authorized uint64
}

// classState is the one in-memory record per share class, mutated only by
// the engine's decision goroutine.
type classState struct {
	authorized uint64
	issued     uint64
	next       uint64 // next_certificate_number; starts at 1.
}

// Result is the outcome of a Grant: either Reason == wire.ReasonOK and
// CertificateNumber is the newly assigned number, or Reason names why the
// request was rejected.
type Result struct {
	Reason            wire.Reason
	CertificateNumber uint64
}

// FatalError wraps a durability failure that spec §4.1/§7 requires be
// fatal to the process: once the journal can no longer be trusted, class
// state and durable truth may have diverged and the engine must not
// continue serving requests.
type FatalError struct{ Cause error }

func (e *FatalError) Error() string { return fmt.Sprintf("engine: fatal journal fault: %v", e.Cause) }
func (e *FatalError) Unwrap() error { return e.Cause }

// ErrStopped is returned by Grant once the engine has begun shutting down
// and is no longer admitting new requests to the decision queue.
var ErrStopped = errors.New("engine: stopped")

type grantRequest struct {
	ctx        context.Context
	classTag   string
	holderName string
	amount     uint64
	replyCh    chan grantOutcome
}

type grantOutcome struct {
	result Result
	err    error
}

// Engine is the issuance engine. Construct with Open, drive with Run, and
// submit requests with Grant from any number of goroutines (typically one
// per accepted connection in internal/server).
type Engine struct {
	journal *journal.Journal
	classes map[string]*classState

	reqCh  chan *grantRequest
	stopCh chan struct{}
}

// Open constructs an Engine from its configured classes, its Journal, and
// the Records recovered by journal.Open's replay. It performs the startup
// verification required by spec §4.1: for every class,
// next_certificate_number must equal (count of records for class) + 1, and
// issued must not exceed authorized. Either failure aborts startup with an
// error naming the offending class and the invariant it failed.
func Open(configs []ClassConfig, j *journal.Journal, records []journal.Record) (*Engine, error) {
	var classes = make(map[string]*classState, len(configs))
	for _, cfg := range configs {
		classes[cfg.Tag] = &classState{authorized: cfg.Authorized, next: 1}
	}

	var counts = make(map[string]int)
	for _, rec := range records {
		var cs, ok = classes[rec.ClassTag]
		if !ok {
			return nil, errors.Errorf("engine: journal references unconfigured class %q", rec.ClassTag)
		}
		cs.issued += rec.Amount
		if rec.CertificateNumber+1 > cs.next {
			cs.next = rec.CertificateNumber + 1
		}
		counts[rec.ClassTag]++
	}

	for tag, cs := range classes {
		if want := uint64(counts[tag]) + 1; cs.next != want {
			return nil, errors.Errorf(
				"engine: class %q failed startup verification: next_certificate_number=%d, want %d (from %d committed grants)",
				tag, cs.next, want, counts[tag])
		}
		if cs.issued > cs.authorized {
			return nil, errors.Errorf(
				"engine: class %q failed startup verification: issued=%d exceeds authorized=%d",
				tag, cs.issued, cs.authorized)
		}
	}

	log.WithField("classes", len(classes)).Info("engine: startup replay verified")

	return &Engine{
		journal: j,
		classes: classes,
		reqCh:   make(chan *grantRequest, 1024),
		stopCh:  make(chan struct{}),
	}, nil
}

// Grant submits a request for |amount| shares of |classTag| on behalf of
// |holderName| to the engine's single decision goroutine, and blocks until
// a decision is reached (or the request's context is cancelled, or the
// engine has stopped). This is the only entry point into engine decision
// logic; spec's decision algorithm (§4.1 steps 1–4) is implemented entirely
// within Run.
func (e *Engine) Grant(ctx context.Context, classTag, holderName string, amount uint64) (Result, error) {
	var req = &grantRequest{
		ctx:        ctx,
		classTag:   classTag,
		holderName: holderName,
		amount:     amount,
		replyCh:    make(chan grantOutcome, 1),
	}

	select {
	case e.reqCh <- req:
	case <-e.stopCh:
		return Result{}, ErrStopped
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	select {
	case out := <-req.replyCh:
		return out.result, out.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Run drives the decision loop until |ctx| is cancelled or Stop is called
// and the request queue has drained. It returns a *FatalError if a journal
// write ever fails — per spec, the caller (cmd/issuanced) must treat that
// as fatal and exit non-zero.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case req := <-e.reqCh:
			if err := e.decide(req); err != nil {
				// Flush the failing request's own reply, then propagate.
				req.replyCh <- grantOutcome{err: err}
				e.drainWithError(err)
				return err
			}
		case <-e.stopCh:
			e.drainWithError(ErrStopped)
			return nil
		case <-ctx.Done():
			e.drainWithError(ctx.Err())
			return ctx.Err()
		}
	}
}

// drainWithError flushes every request still sitting in the queue with
// |err|, so no caller of Grant is left blocked forever once Run exits.
func (e *Engine) drainWithError(err error) {
	for {
		select {
		case req := <-e.reqCh:
			req.replyCh <- grantOutcome{err: err}
		default:
			return
		}
	}
}

// Stop signals Run to stop admitting new requests and return once the
// queue has drained. Stop does not wait for Run to actually return; callers
// coordinate that via Run's own return (eg through an errgroup).
func (e *Engine) Stop() {
	select {
	case <-e.stopCh:
	default:
		close(e.stopCh)
	}
}

// decide executes spec §4.1's decision algorithm for a single request.
// It is only ever called from the Run goroutine, so classState mutation
// here needs no synchronization.
func (e *Engine) decide(req *grantRequest) error {
	var tr, hasTrace = trace.FromContext(req.ctx)
	var reply = func(res Result) {
		if hasTrace {
			tr.LazyPrintf("grant decision: class=%s reason=%s cert=%d", req.classTag, res.Reason, res.CertificateNumber)
		}
		req.replyCh <- grantOutcome{result: res}
	}

	// Step 1: validate inputs.
	var cs, known = e.classes[req.classTag]
	if !known {
		reply(Result{Reason: wire.ReasonUnknownClass})
		return nil
	}
	if req.amount == 0 || req.amount > 0xFFFFFFFF {
		reply(Result{Reason: wire.ReasonInvalidAmount})
		return nil
	}
	if hasNewlineOrCR(req.holderName) {
		reply(Result{Reason: wire.ReasonMalformed})
		return nil
	}

	// Step 2: check inventory.
	if cs.issued+req.amount > cs.authorized {
		reply(Result{Reason: wire.ReasonInsufficientShares})
		return nil
	}

	// Step 3: commit to the journal and wait for durability.
	var n = cs.next
	var rec = journal.Record{
		ClassTag:          req.classTag,
		CertificateNumber: n,
		Amount:            req.amount,
		HolderName:        req.holderName,
	}
	if err := e.journal.Append(rec); err != nil {
		log.WithFields(log.Fields{"class": req.classTag, "certificate": n}).
			WithError(err).Error("engine: journal append failed; engine is now fatally unusable")
		return &FatalError{Cause: err}
	}

	// Step 4: only after durability is confirmed, mutate in-memory state.
	cs.issued += req.amount
	cs.next = n + 1

	reply(Result{Reason: wire.ReasonOK, CertificateNumber: n})
	return nil
}

func hasNewlineOrCR(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' || s[i] == '\r' {
			return true
		}
	}
	return false
}
