package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/BTreeMap/RecruitPipe/internal/conversation"
	"github.com/BTreeMap/RecruitPipe/internal/lock"
	"github.com/BTreeMap/RecruitPipe/internal/models"
	"github.com/BTreeMap/RecruitPipe/internal/reporting"
	"github.com/BTreeMap/RecruitPipe/internal/store"
	"github.com/BTreeMap/RecruitPipe/internal/testutil"
)

const phone = "+37060000001"

type recordingSink struct {
	mu     sync.Mutex
	events []reporting.Event
}

func (r *recordingSink) Append(_ context.Context, e reporting.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingSink) all() []reporting.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]reporting.Event(nil), r.events...)
}

type recordingNotifier struct {
	mu       sync.Mutex
	handoffs []reporting.Handoff
}

func (n *recordingNotifier) Notify(_ context.Context, h reporting.Handoff) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handoffs = append(n.handoffs, h)
	return nil
}

type fakeTransport struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (f *fakeTransport) SendSMS(_ context.Context, to, body, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, body)
	return fmt.Sprintf("SM%04d", len(f.sent)), nil
}

// clock is a settable time source that advances one millisecond per read so message
// timestamps stay ordered.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	svc       *Service
	st        *store.SQLStore
	sink      *recordingSink
	notifier  *recordingNotifier
	transport *fakeTransport
	clock     *clock
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		st:        testutil.NewStore(t),
		sink:      &recordingSink{},
		notifier:  &recordingNotifier{},
		transport: &fakeTransport{},
		clock:     &clock{now: time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)},
	}
	base := []Option{
		WithSink(h.sink),
		WithNotifier(h.notifier),
		WithTransport(h.transport),
		WithClock(h.clock.Now),
		WithBusinessHours(DefaultBusinessHoursStart, DefaultBusinessHoursEnd, time.UTC),
	}
	h.svc = NewService(h.st, testutil.NewPlanner(t, nil), append(base, opts...)...)
	t.Cleanup(h.svc.Wait)
	return h
}

func (h *harness) say(t *testing.T, text string) models.TurnResult {
	t.Helper()
	res, err := h.svc.HandleInbound(context.Background(), models.Inbound{From: phone, Text: text})
	require.NoError(t, err)
	return res
}

func (h *harness) outreach(t *testing.T) models.SendResult {
	t.Helper()
	res, err := h.svc.StartOutreach(context.Background(), models.SendRequest{To: phone, City: "Kaunas", Specialty: "elektrikas"})
	require.NoError(t, err)
	return res
}

func TestHappyPathClosesOnceAndHandsOff(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	sent := h.outreach(t)
	assert.True(t, sent.OK)
	assert.Contains(t, sent.Body, "Kaunas")

	r := h.say(t, "taip, domina")
	assert.Equal(t, "Kiek metų patirties turite kaip elektrikas?", r.Reply)
	assert.Equal(t, string(conversation.StateAwaitingSlot), r.State)
	assert.Equal(t, sent.ThreadID, r.ThreadID)

	h.say(t, "5 metai")
	r = h.say(t, "nuo pirmadienio")
	assert.Equal(t, conversation.HumanClose, r.Reply)
	assert.Equal(t, models.CloseHuman, r.CloseType)
	assert.False(t, r.DNC)

	r = h.say(t, "ačiū")
	assert.Empty(t, r.Reply)
	assert.Equal(t, IgnoredClosed, r.Ignored)

	th, err := h.st.GetThread(ctx, sent.ThreadID)
	require.NoError(t, err)
	assert.True(t, th.Closed())
	assert.Equal(t, models.CloseHuman, th.LastCloseType)

	o, err := h.st.GetOutcome(ctx, th.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InterestYes, o.Interested)
	require.NotNil(t, o.Years)
	assert.Equal(t, 5, *o.Years)

	msgs, err := h.st.ListMessages(ctx, th.ID, time.Time{}, 0)
	require.NoError(t, err)
	closes := 0
	for _, m := range msgs {
		if m.Direction == models.DirectionOut && m.Body == conversation.HumanClose {
			closes++
		}
	}
	assert.Equal(t, 1, closes, "exactly one closing message")
	assert.Len(t, msgs, 8)

	h.svc.Wait()
	require.Len(t, h.notifier.handoffs, 1)
	ho := h.notifier.handoffs[0]
	assert.Equal(t, "Kaunas", ho.City)
	assert.Equal(t, "elektrikas", ho.Specialty)
	assert.Equal(t, conversation.HumanClose, ho.Transcript[len(ho.Transcript)-1].Body)

	events := h.sink.all()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, "silent_ack", last.Note)
}

func TestHardStopMarksDNCAndBlocksOutreach(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, WithSkipBusinessHours(true))
	h.outreach(t)

	r := h.say(t, "STOP")
	assert.Equal(t, conversation.DNCClose, r.Reply)
	assert.Equal(t, models.CloseDNC, r.CloseType)
	assert.True(t, r.DNC)

	c, err := h.st.GetContact(ctx, phone)
	require.NoError(t, err)
	assert.True(t, c.DNC)

	h.clock.Advance(time.Hour)
	_, err = h.svc.StartOutreach(ctx, models.SendRequest{To: phone, Body: "Labas"})
	require.ErrorIs(t, err, ErrContactDNC)

	r = h.say(t, "kodėl rašote?")
	assert.Empty(t, r.Reply)
	assert.Equal(t, IgnoredDNC, r.Ignored)
}

func TestDuplicateProviderDeliveryIsDropped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.outreach(t)

	in := models.Inbound{From: phone, Text: "taip", ProviderID: "SMin0001"}
	first, err := h.svc.HandleInbound(ctx, in)
	require.NoError(t, err)
	assert.NotEmpty(t, first.Reply)

	second, err := h.svc.HandleInbound(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, IgnoredDuplicate, second.Ignored)

	msgs, err := h.st.ListMessages(ctx, first.ThreadID, time.Time{}, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 3, "opener, one inbound, one reply")
}

type flakyLocker struct {
	lock.Locker
	fails int
}

func (l *flakyLocker) Lock(ctx context.Context, key string) (lock.Unlock, error) {
	if l.fails > 0 {
		l.fails--
		return nil, fmt.Errorf("%w: %s", lock.ErrLockTimeout, key)
	}
	return l.Locker.Lock(ctx, key)
}

// flakyStore fails the message insert of the first fails transactions.
type flakyStore struct {
	*store.SQLStore
	fails int
}

func (f *flakyStore) WithTx(ctx context.Context, fn func(q store.Queries) error) error {
	return f.SQLStore.WithTx(ctx, func(q store.Queries) error {
		if f.fails > 0 {
			f.fails--
			return fn(failingAppend{q})
		}
		return fn(q)
	})
}

type failingAppend struct{ store.Queries }

func (failingAppend) AppendMessage(context.Context, models.Message) (models.Message, error) {
	return models.Message{}, errors.New("disk full")
}

func TestRedeliveryAfterFailedTurnIsProcessed(t *testing.T) {
	ctx := context.Background()

	t.Run("lock timeout", func(t *testing.T) {
		h := newHarness(t, WithLocker(&flakyLocker{Locker: lock.NewKeyedMutex(), fails: 1}))
		h.outreach(t)
		in := models.Inbound{From: phone, Text: "taip, domina", ProviderID: "SMretry1"}

		_, err := h.svc.HandleInbound(ctx, in)
		require.ErrorIs(t, err, lock.ErrLockTimeout)

		res, err := h.svc.HandleInbound(ctx, in)
		require.NoError(t, err)
		assert.Empty(t, res.Ignored)
		assert.NotEmpty(t, res.Reply)

		msgs, err := h.st.ListMessages(ctx, res.ThreadID, time.Time{}, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, "taip, domina", msgs[1].Body)

		again, err := h.svc.HandleInbound(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, IgnoredDuplicate, again.Ignored)
	})

	t.Run("turn rolled back", func(t *testing.T) {
		st := &flakyStore{SQLStore: testutil.NewStore(t), fails: 1}
		svc := NewService(st, testutil.NewPlanner(t, nil), WithSkipBusinessHours(true))
		t.Cleanup(svc.Wait)
		in := models.Inbound{From: phone, Text: "sveiki", ProviderID: "SMretry2"}

		_, err := svc.HandleInbound(ctx, in)
		require.Error(t, err)
		dup, err := st.IsDuplicate(ctx, "SMretry2")
		require.NoError(t, err)
		assert.False(t, dup, "failed turn must not keep the dedup row")

		res, err := svc.HandleInbound(ctx, in)
		require.NoError(t, err)
		assert.NotEqual(t, IgnoredDuplicate, res.Ignored)
		msgs, err := st.ListMessages(ctx, res.ThreadID, time.Time{}, 0)
		require.NoError(t, err)
		require.NotEmpty(t, msgs)
		assert.Equal(t, "sveiki", msgs[0].Body)
	})
}

func TestLongThreadKeepsSlotMemory(t *testing.T) {
	h := newHarness(t)
	opener := h.outreach(t)

	for i := 0; i < 12; i++ {
		r := h.say(t, "hmm")
		assert.Equal(t, models.CloseNone, r.CloseType)
	}
	r := h.say(t, "taip, domina, 5 metai, galiu nuo pirmadienio")
	require.Equal(t, models.CloseHuman, r.CloseType)

	msgs, err := h.st.ListMessages(context.Background(), r.ThreadID, time.Time{}, 0)
	require.NoError(t, err)
	years, repeats := 0, map[string]int{}
	for _, m := range msgs {
		if m.Direction != models.DirectionOut {
			continue
		}
		repeats[m.Body]++
		if m.Body == "Kiek metų patirties turite kaip elektrikas?" {
			years++
		}
	}
	assert.LessOrEqual(t, years, 2)
	for body, n := range repeats {
		assert.LessOrEqual(t, n, 2, body)
	}

	h.svc.Wait()
	require.Len(t, h.notifier.handoffs, 1)
	transcript := h.notifier.handoffs[0].Transcript
	assert.Len(t, transcript, len(msgs))
	assert.Equal(t, opener.Body, transcript[0].Body)
}

func TestOutreachGuards(t *testing.T) {
	ctx := context.Background()

	t.Run("business hours", func(t *testing.T) {
		h := newHarness(t)
		h.clock.Advance(10 * time.Hour)
		_, err := h.svc.StartOutreach(ctx, models.SendRequest{To: phone, Body: "Labas"})
		require.ErrorIs(t, err, ErrOutsideBusinessHours)
	})

	t.Run("skip business hours", func(t *testing.T) {
		h := newHarness(t, WithSkipBusinessHours(true))
		h.clock.Advance(10 * time.Hour)
		_, err := h.svc.StartOutreach(ctx, models.SendRequest{To: phone, Body: "Labas"})
		require.NoError(t, err)
	})

	t.Run("throttle", func(t *testing.T) {
		h := newHarness(t)
		first := h.outreach(t)
		_, err := h.svc.StartOutreach(ctx, models.SendRequest{To: phone, Body: "Ar gavote žinutę?"})
		require.ErrorIs(t, err, ErrThrottled)

		h.clock.Advance(2 * time.Minute)
		again, err := h.svc.StartOutreach(ctx, models.SendRequest{To: phone, Body: "Ar gavote žinutę?"})
		require.NoError(t, err)
		assert.Equal(t, first.ThreadID, again.ThreadID, "follow-up goes to the open thread")
	})

	t.Run("invalid recipient", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.svc.StartOutreach(ctx, models.SendRequest{To: "abc", Body: "Labas"})
		require.ErrorIs(t, err, ErrInvalidRecipient)
	})
}

func TestSendBatchReportsPerItem(t *testing.T) {
	h := newHarness(t)
	results := h.svc.SendBatch(context.Background(), []models.SendRequest{
		{To: "+37060000011", City: "Vilnius", Specialty: "santechnikas"},
		{To: "x"},
		{To: "+37060000011", Body: "Labas dar kartą"},
	})
	require.Len(t, results, 3)
	assert.True(t, results[0].OK)
	assert.False(t, results[1].OK)
	assert.NotEmpty(t, results[1].Error)
	assert.False(t, results[2].OK, "second message inside the throttle window")
}

func TestOutboxDeliveryAndReceipts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	sent := h.outreach(t)

	sender := store.NewOutboxSender(h.st, h.svc.Deliver, time.Second)
	assert.Equal(t, 1, sender.Poll(ctx))
	require.Len(t, h.transport.sent, 1)
	assert.Equal(t, sent.Body, h.transport.sent[0])

	msgs, err := h.st.ListMessages(ctx, sent.ThreadID, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.MessageStatusSent, msgs[0].Status)
	assert.Equal(t, "SM0001", msgs[0].ProviderID)

	require.NoError(t, h.svc.HandleReceipt(ctx, models.Receipt{ProviderID: "SM0001", Status: models.MessageStatusDelivered}))
	require.NoError(t, h.svc.HandleReceipt(ctx, models.Receipt{ProviderID: "SMunknown", Status: models.MessageStatusFailed}))
	msgs, err = h.st.ListMessages(ctx, sent.ThreadID, time.Time{}, 0)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusDelivered, msgs[0].Status)

	var delivered bool
	for _, e := range h.sink.all() {
		if e.Sent != nil && *e.Sent {
			delivered = true
			assert.Equal(t, "Kaunas", e.City)
		}
	}
	assert.True(t, delivered, "delivery is reported")
}

func TestDeliverErrors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.transport.err = errors.New("twilio down")

	err := h.svc.Deliver(ctx, store.OutboxMessage{Kind: "email"})
	require.Error(t, err)

	err = h.svc.Deliver(ctx, store.OutboxMessage{Kind: store.OutboxKindSMS, PayloadJSON: `{"to":"+37060000001","body":"x"}`})
	require.EqualError(t, err, "twilio down")

	noTransport := NewService(h.st, testutil.NewPlanner(t, nil))
	err = noTransport.Deliver(ctx, store.OutboxMessage{Kind: store.OutboxKindSMS, PayloadJSON: `{}`})
	require.ErrorIs(t, err, ErrNoTransport)
}

func TestDebugCommandLeavesThreadUntouched(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	r := h.say(t, "!prompt")
	assert.Equal(t, h.svc.Planner().PromptInfo(), r.Reply)

	_, err := h.st.LatestThread(ctx, phone)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestColdInboundOpensThread(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	r := h.say(t, "Sveiki, ieškau darbo Vilniuje")
	assert.NotZero(t, r.ThreadID)
	assert.NotEmpty(t, r.Reply)

	v, err := h.svc.Thread(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, r.ThreadID, v.Thread.ID)
	assert.Len(t, v.Messages, 2)

	sum, err := h.svc.Summary(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, r.ThreadID, sum.ThreadID)
	assert.Equal(t, models.CloseNone, sum.CloseType)
}

func TestEmptyAndInvalidInbound(t *testing.T) {
	h := newHarness(t)
	r, err := h.svc.HandleInbound(context.Background(), models.Inbound{From: phone, Text: "   "})
	require.NoError(t, err)
	assert.Equal(t, IgnoredEmpty, r.Ignored)

	_, err = h.svc.HandleInbound(context.Background(), models.Inbound{From: "", Text: "taip"})
	require.Error(t, err)
}

func TestConcurrentInboundKeepsOneThread(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var wg sync.WaitGroup
	errs := make(chan error, 6)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.svc.HandleInbound(ctx, models.Inbound{From: phone, Text: fmt.Sprintf("kiek mokate? %d", i)})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	v, err := h.svc.Thread(ctx, phone)
	require.NoError(t, err)
	var inbound int
	for _, m := range v.Messages {
		if m.Direction == models.DirectionIn {
			inbound++
		}
	}
	assert.Equal(t, 6, inbound, "all messages land in the same thread")
	h.svc.Wait()
}

func TestRecoverStateBackfillsOutcomes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	sent := h.outreach(t)
	h.say(t, "nedomina")

	require.NoError(t, h.st.SetThreadStatus(ctx, sent.ThreadID, models.ThreadClosed))
	_, err := h.st.GetOutcome(ctx, sent.ThreadID)
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, h.svc.RecoverState(ctx))
	o, err := h.st.GetOutcome(ctx, sent.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, models.InterestNo, o.Interested)

	sum, err := h.svc.Summary(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, o.Interested, sum.Interested)
}
