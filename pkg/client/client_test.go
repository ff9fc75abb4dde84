package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rzbill/relay/pkg/client/transports"
	"github.com/rzbill/relay/pkg/deferred"
	"github.com/rzbill/relay/pkg/report"
)

// fakeTransport records calls and mints sequential UUIDs.
type fakeTransport struct {
	mu       sync.Mutex
	launches []transports.StartLaunchRequest
	items    []transports.StartItemRequest
	finished []transports.FinishItemRequest
	batches  [][]transports.LogEntry
	closedL  []transports.FinishLaunchRequest

	startItemErr error
	sendErr      error
	nextID       int
}

func (f *fakeTransport) StartLaunch(_ context.Context, req transports.StartLaunchRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launches = append(f.launches, req)
	if req.UUID != "" {
		return req.UUID, nil
	}
	f.nextID++
	return fmt.Sprintf("launch-%d", f.nextID), nil
}

func (f *fakeTransport) FinishLaunch(_ context.Context, req transports.FinishLaunchRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closedL = append(f.closedL, req)
	return nil
}

func (f *fakeTransport) StartItem(_ context.Context, req transports.StartItemRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startItemErr != nil {
		return "", f.startItemErr
	}
	f.items = append(f.items, req)
	if req.UUID != "" {
		return req.UUID, nil
	}
	f.nextID++
	return fmt.Sprintf("item-%d", f.nextID), nil
}

func (f *fakeTransport) FinishItem(_ context.Context, req transports.FinishItemRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, req)
	return nil
}

func (f *fakeTransport) SendLogBatch(_ context.Context, entries []transports.LogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	cp := append([]transports.LogEntry(nil), entries...)
	f.batches = append(f.batches, cp)
	return nil
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) sentBatches() [][]transports.LogEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]transports.LogEntry(nil), f.batches...)
}

func newTestClient(t *testing.T, opts Options) (*Client, *fakeTransport) {
	t.Helper()
	ft := &fakeTransport{}
	opts.Transport = ft
	opts.NowMs = func() int64 { return 1700000000000 }
	c, err := New(opts)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c, ft
}

func TestStartLaunchResolvesUUID(t *testing.T) {
	c, _ := newTestClient(t, Options{})
	defer c.Stop(true)

	d := c.StartLaunch(context.Background(), StartLaunchOptions{Name: "nightly"})
	uuid, err := d.Await(5 * time.Second)
	if err != nil {
		t.Fatalf("await launch: %v", err)
	}
	if uuid != "launch-1" {
		t.Fatalf("uuid = %q", uuid)
	}
}

func TestLogWithoutLaunchIsUsageError(t *testing.T) {
	c, _ := newTestClient(t, Options{})
	defer c.Stop(true)

	_, err := c.Log(LogOptions{Message: "orphan"}).Await(time.Second)
	var ue *UsageError
	if !errors.As(err, &ue) {
		t.Fatalf("err = %v, want UsageError", err)
	}
}

func TestLogDefaultsToCurrentItem(t *testing.T) {
	c, ft := newTestClient(t, Options{MaxEntries: 2})
	c.StartLaunch(context.Background(), StartLaunchOptions{Name: "l"})

	a := c.StartItem(context.Background(), StartItemOptions{Name: "A", Type: report.ItemTypeSuite})
	b := c.StartItem(context.Background(), StartItemOptions{Name: "B"})

	c.Log(LogOptions{Message: "goes to B"})
	c.Log(LogOptions{Message: "still B"})

	if err := c.Stop(true); err != nil {
		t.Fatalf("stop: %v", err)
	}

	aUUID, err := a.UUID(context.Background())
	if err != nil {
		t.Fatalf("item A uuid: %v", err)
	}
	bUUID, _ := b.UUID(context.Background())
	if aUUID == bUUID {
		t.Fatalf("distinct items share uuid %q", aUUID)
	}

	batches := ft.sentBatches()
	if len(batches) != 1 {
		t.Fatalf("batches = %d", len(batches))
	}
	for _, e := range batches[0] {
		if e.ItemUUID != bUUID {
			t.Fatalf("entry targeted %q, want %q", e.ItemUUID, bUUID)
		}
	}
}

func TestItemNestingUsesStackParent(t *testing.T) {
	c, ft := newTestClient(t, Options{})
	defer c.Stop(true)
	c.StartLaunch(context.Background(), StartLaunchOptions{Name: "l"})

	parent := c.StartItem(context.Background(), StartItemOptions{Name: "suite", Type: report.ItemTypeSuite})
	child := c.StartItem(context.Background(), StartItemOptions{Name: "test", Type: report.ItemTypeTest})

	parentUUID, err := parent.UUID(context.Background())
	if err != nil {
		t.Fatalf("parent uuid: %v", err)
	}
	if _, err := child.UUID(context.Background()); err != nil {
		t.Fatalf("child uuid: %v", err)
	}

	ft.mu.Lock()
	defer ft.mu.Unlock()
	if len(ft.items) != 2 {
		t.Fatalf("items = %d", len(ft.items))
	}
	if ft.items[0].ParentUUID != "" {
		t.Fatalf("root item has parent %q", ft.items[0].ParentUUID)
	}
	if ft.items[1].ParentUUID != parentUUID {
		t.Fatalf("child parent = %q, want %q", ft.items[1].ParentUUID, parentUUID)
	}
}

func TestFinishItemPopsInLIFOOrder(t *testing.T) {
	c, _ := newTestClient(t, Options{})
	defer c.Stop(true)
	c.StartLaunch(context.Background(), StartLaunchOptions{Name: "l"})

	a := c.StartItem(context.Background(), StartItemOptions{Name: "A"})
	b := c.StartItem(context.Background(), StartItemOptions{Name: "B"})

	first, err := c.FinishItem(context.Background(), FinishItemOptions{Status: report.StatusPassed}).Await(5 * time.Second)
	if err != nil {
		t.Fatalf("finish B: %v", err)
	}
	bUUID, _ := b.UUID(context.Background())
	if first != bUUID {
		t.Fatalf("first pop finished %q, want B (%q)", first, bUUID)
	}

	second, err := c.FinishItem(context.Background(), FinishItemOptions{Status: report.StatusPassed}).Await(5 * time.Second)
	if err != nil {
		t.Fatalf("finish A: %v", err)
	}
	aUUID, _ := a.UUID(context.Background())
	if second != aUUID {
		t.Fatalf("second pop finished %q, want A (%q)", second, aUUID)
	}

	_, err = c.FinishItem(context.Background(), FinishItemOptions{}).Await(time.Second)
	var ue *UsageError
	if !errors.As(err, &ue) {
		t.Fatalf("third pop err = %v, want UsageError", err)
	}
}

func TestSkippedItemDefaultsToNotIssue(t *testing.T) {
	off := false
	c, ft := newTestClient(t, Options{SkippedAnIssue: &off})
	defer c.Stop(true)
	c.StartLaunch(context.Background(), StartLaunchOptions{Name: "l"})
	c.StartItem(context.Background(), StartItemOptions{Name: "flaky"})

	if _, err := c.FinishItem(context.Background(), FinishItemOptions{Status: report.StatusSkipped}).Await(5 * time.Second); err != nil {
		t.Fatalf("finish: %v", err)
	}

	ft.mu.Lock()
	defer ft.mu.Unlock()
	if len(ft.finished) != 1 {
		t.Fatalf("finished %d items, want 1", len(ft.finished))
	}
	iss := ft.finished[0].Issue
	if iss == nil || iss.Type != transports.IssueNotIssue {
		t.Fatalf("issue = %+v, want %s", iss, transports.IssueNotIssue)
	}
}

func TestSkippedItemCountsAsIssueByDefault(t *testing.T) {
	c, ft := newTestClient(t, Options{})
	defer c.Stop(true)
	c.StartLaunch(context.Background(), StartLaunchOptions{Name: "l"})
	c.StartItem(context.Background(), StartItemOptions{Name: "flaky"})

	if _, err := c.FinishItem(context.Background(), FinishItemOptions{Status: report.StatusSkipped}).Await(5 * time.Second); err != nil {
		t.Fatalf("finish: %v", err)
	}

	ft.mu.Lock()
	defer ft.mu.Unlock()
	if len(ft.finished) != 1 {
		t.Fatalf("finished %d items, want 1", len(ft.finished))
	}
	if iss := ft.finished[0].Issue; iss != nil {
		t.Fatalf("issue = %+v, want none", iss)
	}
}

func TestSkippedItemKeepsExplicitIssue(t *testing.T) {
	off := false
	c, ft := newTestClient(t, Options{SkippedAnIssue: &off})
	defer c.Stop(true)
	c.StartLaunch(context.Background(), StartLaunchOptions{Name: "l"})
	c.StartItem(context.Background(), StartItemOptions{Name: "flaky"})

	want := &transports.Issue{Type: "pb001", Comment: "known breakage"}
	if _, err := c.FinishItem(context.Background(), FinishItemOptions{Status: report.StatusSkipped, Issue: want}).Await(5 * time.Second); err != nil {
		t.Fatalf("finish: %v", err)
	}

	ft.mu.Lock()
	defer ft.mu.Unlock()
	if iss := ft.finished[0].Issue; iss == nil || iss.Type != want.Type {
		t.Fatalf("issue = %+v, want %+v", iss, want)
	}
}

func TestGracefulStopFlushesPendingRecords(t *testing.T) {
	c, ft := newTestClient(t, Options{MaxEntries: 100})
	c.StartLaunch(context.Background(), StartLaunchOptions{Name: "l"})
	c.StartItem(context.Background(), StartItemOptions{Name: "t"})

	const n = 7
	for i := 0; i < n; i++ {
		c.Log(LogOptions{Message: fmt.Sprintf("record %d", i)})
	}
	if err := c.Stop(true); err != nil {
		t.Fatalf("stop: %v", err)
	}

	total := 0
	for _, b := range ft.sentBatches() {
		total += len(b)
	}
	if total != n {
		t.Fatalf("delivered %d records, want %d", total, n)
	}
}

func TestRecordOrderPreservedAcrossBatches(t *testing.T) {
	c, ft := newTestClient(t, Options{MaxEntries: 2})
	c.StartLaunch(context.Background(), StartLaunchOptions{Name: "l"})
	c.StartItem(context.Background(), StartItemOptions{Name: "t"})

	for i := 0; i < 5; i++ {
		c.Log(LogOptions{Message: fmt.Sprintf("m%d", i)})
	}
	if err := c.Stop(true); err != nil {
		t.Fatalf("stop: %v", err)
	}

	var got []string
	for _, b := range ft.sentBatches() {
		for _, e := range b {
			got = append(got, e.Message)
		}
	}
	want := []string{"m0", "m1", "m2", "m3", "m4"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order %v, want %v", got, want)
		}
	}
}

func TestLogAfterStopFails(t *testing.T) {
	c, _ := newTestClient(t, Options{})
	c.StartLaunch(context.Background(), StartLaunchOptions{Name: "l"})
	if err := c.Stop(true); err != nil {
		t.Fatalf("stop: %v", err)
	}

	_, err := c.Log(LogOptions{Message: "late"}).Await(time.Second)
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
}

func TestLogRacingStopResolvesEveryAck(t *testing.T) {
	c, _ := newTestClient(t, Options{MaxEntries: 100})
	c.StartLaunch(context.Background(), StartLaunchOptions{Name: "l"})

	const producers, perProducer = 8, 16
	acks := make(chan *deferred.Deferred[report.BatchAck], producers*perProducer)
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				acks <- c.Log(LogOptions{Message: "racing"})
			}
		}()
	}
	if err := c.Stop(true); err != nil {
		t.Fatalf("stop: %v", err)
	}
	wg.Wait()
	close(acks)

	// Every handle must settle: delivered, rejected or failed, never left
	// pending.
	for a := range acks {
		if _, err := a.Await(5 * time.Second); errors.Is(err, deferred.ErrTimeout) {
			t.Fatal("record handle still pending after stop")
		}
	}
}

// slowTransport stalls item starts and batch sends long enough to exhaust
// any stop budget.
type slowTransport struct {
	delay time.Duration
}

func (s *slowTransport) StartLaunch(context.Context, transports.StartLaunchRequest) (string, error) {
	return "launch-1", nil
}

func (s *slowTransport) FinishLaunch(context.Context, transports.FinishLaunchRequest) error {
	return nil
}

func (s *slowTransport) StartItem(context.Context, transports.StartItemRequest) (string, error) {
	time.Sleep(s.delay)
	return "item-1", nil
}

func (s *slowTransport) FinishItem(context.Context, transports.FinishItemRequest) error {
	return nil
}

func (s *slowTransport) SendLogBatch(context.Context, []transports.LogEntry) error {
	time.Sleep(s.delay)
	return nil
}

func (s *slowTransport) Close() error { return nil }

func TestGracefulStopBoundedByOneDrainTimeout(t *testing.T) {
	st := &slowTransport{delay: 2 * time.Second}
	c, err := New(Options{Transport: st, DrainTimeout: 300 * time.Millisecond})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := c.StartLaunch(context.Background(), StartLaunchOptions{Name: "l"}).Await(time.Second); err != nil {
		t.Fatalf("launch: %v", err)
	}
	c.StartItem(context.Background(), StartItemOptions{Name: "slow"})
	c.Log(LogOptions{Message: "queued"})
	c.Flush()

	start := time.Now()
	_ = c.Stop(true)
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("graceful stop took %v, want a single drain budget", elapsed)
	}
}

func TestStepReportsNestedStepWithoutStats(t *testing.T) {
	c, ft := newTestClient(t, Options{})
	defer c.Stop(true)
	c.StartLaunch(context.Background(), StartLaunchOptions{Name: "l"})
	c.StartItem(context.Background(), StartItemOptions{Name: "test", Type: report.ItemTypeTest})

	err := c.Step(context.Background(), "open page", StepOptions{}, func(context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("step: %v", err)
	}

	// The finish round-trip runs in the background; wait for it.
	deadline := time.Now().Add(5 * time.Second)
	for {
		ft.mu.Lock()
		n := len(ft.finished)
		ft.mu.Unlock()
		if n == 1 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	ft.mu.Lock()
	defer ft.mu.Unlock()
	var step *transports.StartItemRequest
	for i := range ft.items {
		if ft.items[i].Name == "open page" {
			step = &ft.items[i]
		}
	}
	if step == nil {
		t.Fatal("step item never started")
	}
	if step.Type != report.ItemTypeStep || step.HasStats {
		t.Fatalf("step = %+v", step)
	}
	if len(ft.finished) != 1 || ft.finished[0].Status != report.StatusPassed {
		t.Fatalf("finished = %+v", ft.finished)
	}
}

func TestStepFailureStatusAndPropagation(t *testing.T) {
	c, ft := newTestClient(t, Options{})
	c.StartLaunch(context.Background(), StartLaunchOptions{Name: "l"})
	c.StartItem(context.Background(), StartItemOptions{Name: "test"})

	boom := errors.New("assertion failed")
	err := c.Step(context.Background(), "check", StepOptions{}, func(context.Context) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("step err = %v, want %v", err, boom)
	}
	if err := c.Stop(true); err != nil {
		t.Fatalf("stop: %v", err)
	}

	ft.mu.Lock()
	defer ft.mu.Unlock()
	if len(ft.finished) != 1 || ft.finished[0].Status != report.StatusFailed {
		t.Fatalf("finished = %+v", ft.finished)
	}

	// The enclosing test item must still be the only open item.
	if top, ok := c.CurrentItem(""); !ok || top.Name != "test" {
		t.Fatalf("current item = %v, %v", top, ok)
	}
}

func TestCloneCarriesCurrentItem(t *testing.T) {
	c, ft := newTestClient(t, Options{})
	c.StartLaunch(context.Background(), StartLaunchOptions{Name: "l"})
	item := c.StartItem(context.Background(), StartItemOptions{Name: "carried"})

	nc, err := c.Clone("")
	if err != nil {
		t.Fatalf("clone: %v", err)
	}

	nc.Log(LogOptions{Message: "from clone"})
	if err := nc.Stop(true); err != nil {
		t.Fatalf("stop clone: %v", err)
	}
	if err := c.Stop(true); err != nil {
		t.Fatalf("stop: %v", err)
	}

	itemUUID, _ := item.UUID(context.Background())
	batches := ft.sentBatches()
	if len(batches) != 1 || batches[0][0].ItemUUID != itemUUID {
		t.Fatalf("batches = %+v, want item %q", batches, itemUUID)
	}
}

func TestFilterDropsRecords(t *testing.T) {
	c, ft := newTestClient(t, Options{FilterExpr: "level >= 30000"})
	c.StartLaunch(context.Background(), StartLaunchOptions{Name: "l"})
	c.StartItem(context.Background(), StartItemOptions{Name: "t"})

	dropped := c.Log(LogOptions{Level: report.LevelInfo, Message: "chatty"})
	kept := c.Log(LogOptions{Level: report.LevelError, Message: "broken"})

	if ack, err := dropped.Await(time.Second); err != nil || ack.Records != 0 {
		t.Fatalf("dropped ack = %+v, %v", ack, err)
	}
	if err := c.Stop(true); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, err := kept.Await(time.Second); err != nil {
		t.Fatalf("kept ack: %v", err)
	}

	batches := ft.sentBatches()
	if len(batches) != 1 || len(batches[0]) != 1 || batches[0][0].Message != "broken" {
		t.Fatalf("batches = %+v", batches)
	}
}

func TestBadFilterExprRejectedAtConstruction(t *testing.T) {
	_, err := New(Options{Transport: &fakeTransport{}, FilterExpr: "level >=="})
	if err == nil {
		t.Fatal("expected compile error")
	}
}

func TestTransportFailureResolvesRecordAcks(t *testing.T) {
	c, ft := newTestClient(t, Options{})
	ft.sendErr = errors.New("http 503")
	c.StartLaunch(context.Background(), StartLaunchOptions{Name: "l"})
	c.StartItem(context.Background(), StartItemOptions{Name: "t"})

	ack := c.Log(LogOptions{Message: "doomed"})
	if err := c.Stop(true); err != nil {
		t.Fatalf("stop: %v", err)
	}

	_, err := ack.Await(time.Second)
	if err == nil || !strings.Contains(err.Error(), "http 503") {
		t.Fatalf("ack err = %v", err)
	}
}

func TestClientGeneratedIDsResolveImmediately(t *testing.T) {
	c, _ := newTestClient(t, Options{ClientGeneratedIDs: true})
	defer c.Stop(true)

	d := c.StartLaunch(context.Background(), StartLaunchOptions{Name: "l"})
	uuid, err := d.Await(5 * time.Second)
	if err != nil || uuid == "" {
		t.Fatalf("launch uuid = %q, %v", uuid, err)
	}

	item := c.StartItem(context.Background(), StartItemOptions{Name: "t"})
	iu, err := item.UUID(context.Background())
	if err != nil || iu == "" {
		t.Fatalf("item uuid = %q, %v", iu, err)
	}
}

// lockedBuffer makes a bytes.Buffer safe for the OnResolve goroutine.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestLaunchUUIDPrint(t *testing.T) {
	var buf lockedBuffer
	ft := &fakeTransport{}
	c, err := New(Options{Transport: ft, LaunchUUIDPrint: true, LaunchUUIDOutput: &buf})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	d := c.StartLaunch(context.Background(), StartLaunchOptions{Name: "l"})
	if _, err := d.Await(5 * time.Second); err != nil {
		t.Fatalf("await: %v", err)
	}
	if err := c.Stop(true); err != nil {
		t.Fatalf("stop: %v", err)
	}

	// OnResolve runs on its own goroutine; give it a moment.
	deadline := time.Now().Add(2 * time.Second)
	for buf.String() == "" && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := buf.String(); !strings.Contains(got, "Report launch UUID: launch-1") {
		t.Fatalf("printed %q", got)
	}
}

func TestAttachmentReachesTransport(t *testing.T) {
	c, ft := newTestClient(t, Options{})
	c.StartLaunch(context.Background(), StartLaunchOptions{Name: "l"})
	c.StartItem(context.Background(), StartItemOptions{Name: "t"})

	c.Log(LogOptions{
		Level:   report.LevelError,
		Message: "see attachment",
		Attachment: &report.Attachment{
			Name:        "screen.png",
			ContentType: "image/png",
			Content:     []byte{0x89, 0x50},
		},
	})
	if err := c.Stop(true); err != nil {
		t.Fatalf("stop: %v", err)
	}

	batches := ft.sentBatches()
	if len(batches) != 1 {
		t.Fatalf("batches = %d", len(batches))
	}
	file := batches[0][0].File
	if file == nil || file.Name != "screen.png" || len(file.Content) != 2 {
		t.Fatalf("file = %+v", file)
	}
}
