package engine

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	gc "github.com/go-check/check"
	"github.com/stretchr/testify/assert"

	"github.com/aconrad/pulley-interview/internal/journal"
	"github.com/aconrad/pulley-interview/internal/wire"
)

func Test(t *testing.T) { gc.TestingT(t) }

type EngineSuite struct{}

var _ = gc.Suite(&EngineSuite{})

func newTestEngine(c *gc.C, configs []ClassConfig) (*Engine, func()) {
	var path = filepath.Join(c.MkDir(), "journal.log")
	var j, records, err = journal.Open(path)
	c.Assert(err, gc.IsNil)

	var e, eerr = Open(configs, j, records)
	c.Assert(eerr, gc.IsNil)

	var ctx, cancel = context.WithCancel(context.Background())
	var runErrCh = make(chan error, 1)
	go func() { runErrCh <- e.Run(ctx) }()

	return e, func() {
		cancel()
		<-runErrCh
		_ = j.Close()
	}
}

func (s *EngineSuite) TestScenario1SequentialAcrossClasses(c *gc.C) {
	var e, cleanup = newTestEngine(c, []ClassConfig{{Tag: "CS", Authorized: 100}, {Tag: "PS", Authorized: 50}})
	defer cleanup()

	var ctx = context.Background()

	var r1, err1 = e.Grant(ctx, "CS", "Alice", 10)
	c.Assert(err1, gc.IsNil)
	c.Check(r1, gc.Equals, Result{Reason: wire.ReasonOK, CertificateNumber: 1})

	var r2, err2 = e.Grant(ctx, "PS", "Bob", 5)
	c.Assert(err2, gc.IsNil)
	c.Check(r2, gc.Equals, Result{Reason: wire.ReasonOK, CertificateNumber: 1})

	var r3, err3 = e.Grant(ctx, "CS", "Alice", 10)
	c.Assert(err3, gc.IsNil)
	c.Check(r3, gc.Equals, Result{Reason: wire.ReasonOK, CertificateNumber: 2})
}

func (s *EngineSuite) TestScenario2ConcurrentExhaustion(c *gc.C) {
	var e, cleanup = newTestEngine(c, []ClassConfig{{Tag: "CS", Authorized: 10}})
	defer cleanup()

	var ctx = context.Background()
	var wg sync.WaitGroup
	var mu sync.Mutex
	var oks []uint64
	var failures int

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var res, err = e.Grant(ctx, "CS", "Holder", 1)
			c.Check(err, gc.IsNil)

			mu.Lock()
			defer mu.Unlock()
			if res.Reason == wire.ReasonOK {
				oks = append(oks, res.CertificateNumber)
			} else {
				c.Check(res.Reason, gc.Equals, wire.ReasonInsufficientShares)
				failures++
			}
		}()
	}
	wg.Wait()

	c.Assert(oks, gc.HasLen, 10)
	c.Check(failures, gc.Equals, 10)

	var seen = make(map[uint64]bool)
	for _, n := range oks {
		c.Assert(seen[n], gc.Equals, false) // No duplicates.
		seen[n] = true
		c.Assert(n >= 1 && n <= 10, gc.Equals, true)
	}
}

func (s *EngineSuite) TestScenario3BoundaryAmounts(c *gc.C) {
	var e, cleanup = newTestEngine(c, []ClassConfig{{Tag: "CS", Authorized: 5}})
	defer cleanup()

	var ctx = context.Background()

	var r1, _ = e.Grant(ctx, "CS", "X", 6)
	c.Check(r1.Reason, gc.Equals, wire.ReasonInsufficientShares)

	var r2, _ = e.Grant(ctx, "CS", "X", 5)
	c.Check(r2, gc.Equals, Result{Reason: wire.ReasonOK, CertificateNumber: 1})

	var r3, _ = e.Grant(ctx, "CS", "X", 1)
	c.Check(r3.Reason, gc.Equals, wire.ReasonInsufficientShares)
}

func (s *EngineSuite) TestZeroAuthorizedAlwaysFails(c *gc.C) {
	var e, cleanup = newTestEngine(c, []ClassConfig{{Tag: "CS", Authorized: 0}})
	defer cleanup()

	var r, _ = e.Grant(context.Background(), "CS", "X", 1)
	c.Check(r.Reason, gc.Equals, wire.ReasonInsufficientShares)
}

func (s *EngineSuite) TestUnknownClassAndInvalidAmount(c *gc.C) {
	var e, cleanup = newTestEngine(c, []ClassConfig{{Tag: "CS", Authorized: 100}})
	defer cleanup()

	var ctx = context.Background()

	var r1, _ = e.Grant(ctx, "XX", "X", 1)
	c.Check(r1.Reason, gc.Equals, wire.ReasonUnknownClass)

	var r2, _ = e.Grant(ctx, "CS", "X", 0)
	c.Check(r2.Reason, gc.Equals, wire.ReasonInvalidAmount)
}

func (s *EngineSuite) TestHolderNameWithNewlineIsMalformed(c *gc.C) {
	var e, cleanup = newTestEngine(c, []ClassConfig{{Tag: "CS", Authorized: 100}})
	defer cleanup()

	var r, _ = e.Grant(context.Background(), "CS", "bad\nname", 1)
	c.Check(r.Reason, gc.Equals, wire.ReasonMalformed)
}

func (s *EngineSuite) TestCrashRecovery(c *gc.C) {
	var path = filepath.Join(c.MkDir(), "journal.log")

	var j, records, err = journal.Open(path)
	c.Assert(err, gc.IsNil)
	var e, eerr = Open([]ClassConfig{{Tag: "CS", Authorized: 100}}, j, records)
	c.Assert(eerr, gc.IsNil)

	var ctx, cancel = context.WithCancel(context.Background())
	var runErrCh = make(chan error, 1)
	go func() { runErrCh <- e.Run(ctx) }()

	var amounts = []uint64{1, 2, 3, 4, 5, 6, 7}
	var sum uint64
	for _, a := range amounts {
		var r, gerr = e.Grant(ctx, "CS", "X", a)
		c.Assert(gerr, gc.IsNil)
		c.Assert(r.Reason, gc.Equals, wire.ReasonOK)
		sum += a
	}

	// Stop the engine and close the journal, then rebuild state from the
	// journal file alone.
	cancel()
	<-runErrCh
	c.Assert(j.Close(), gc.IsNil)

	// Restart from the same journal file.
	var j2, records2, rerr = journal.Open(path)
	c.Assert(rerr, gc.IsNil)
	defer j2.Close()

	var e2, eerr2 = Open([]ClassConfig{{Tag: "CS", Authorized: 100}}, j2, records2)
	c.Assert(eerr2, gc.IsNil)

	var ctx2, cancel2 = context.WithCancel(context.Background())
	var runErrCh2 = make(chan error, 1)
	go func() { runErrCh2 <- e2.Run(ctx2) }()
	defer func() { cancel2(); <-runErrCh2 }()

	var next, nerr = e2.Grant(ctx2, "CS", "X", 1)
	c.Assert(nerr, gc.IsNil)
	c.Check(next, gc.Equals, Result{Reason: wire.ReasonOK, CertificateNumber: 8})
	c.Check(e2.classes["CS"].issued, gc.Equals, sum+1)
}

func TestOpenRejectsUnconfiguredClassInJournal(t *testing.T) {
	var dir = t.TempDir()
	var j, _, err = journal.Open(filepath.Join(dir, "journal.log"))
	assert.NoError(t, err)
	assert.NoError(t, j.Append(journal.Record{ClassTag: "ZZ", CertificateNumber: 1, Amount: 1, HolderName: "X"}))
	assert.NoError(t, j.Close())

	var j2, records, rerr = journal.Open(filepath.Join(dir, "journal.log"))
	assert.NoError(t, rerr)
	defer j2.Close()

	var _, eerr = Open([]ClassConfig{{Tag: "CS", Authorized: 100}}, j2, records)
	assert.Error(t, eerr)
}

func TestOpenRejectsIssuedExceedingAuthorized(t *testing.T) {
	var dir = t.TempDir()
	var j, _, err = journal.Open(filepath.Join(dir, "journal.log"))
	assert.NoError(t, err)
	assert.NoError(t, j.Append(journal.Record{ClassTag: "CS", CertificateNumber: 1, Amount: 1000, HolderName: "X"}))
	assert.NoError(t, j.Close())

	var j2, records, rerr = journal.Open(filepath.Join(dir, "journal.log"))
	assert.NoError(t, rerr)
	defer j2.Close()

	var _, eerr = Open([]ClassConfig{{Tag: "CS", Authorized: 10}}, j2, records)
	assert.Error(t, eerr)
}

func TestOpenRejectsGapInCertificateNumbers(t *testing.T) {
	var dir = t.TempDir()
	var j, _, err = journal.Open(filepath.Join(dir, "journal.log"))
	assert.NoError(t, err)
	assert.NoError(t, j.Append(journal.Record{ClassTag: "CS", CertificateNumber: 1, Amount: 1, HolderName: "X"}))
	assert.NoError(t, j.Append(journal.Record{ClassTag: "CS", CertificateNumber: 3, Amount: 1, HolderName: "X"}))
	assert.NoError(t, j.Close())

	var j2, records, rerr = journal.Open(filepath.Join(dir, "journal.log"))
	assert.NoError(t, rerr)
	defer j2.Close()

	var _, eerr = Open([]ClassConfig{{Tag: "CS", Authorized: 100}}, j2, records)
	assert.Error(t, eerr)
}
