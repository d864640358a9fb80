package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"

	"github.com/shaiso/orderflow/internal/domain"
	"github.com/shaiso/orderflow/internal/idempotency"
	"github.com/shaiso/orderflow/internal/mq"
	"github.com/shaiso/orderflow/internal/telemetry"
)

// --- Fakes ---

type ackCall struct {
	tag     uint64
	kind    string // ack, nack, reject
	requeue bool
}

// fakeAck реализует amqp.Acknowledger и записывает вызовы.
type fakeAck struct {
	mu    sync.Mutex
	calls []ackCall
}

func (f *fakeAck) Ack(tag uint64, _ bool) error {
	f.record(ackCall{tag: tag, kind: "ack"})
	return nil
}

func (f *fakeAck) Nack(tag uint64, _ bool, requeue bool) error {
	f.record(ackCall{tag: tag, kind: "nack", requeue: requeue})
	return nil
}

func (f *fakeAck) Reject(tag uint64, requeue bool) error {
	f.record(ackCall{tag: tag, kind: "reject", requeue: requeue})
	return nil
}

func (f *fakeAck) record(c ackCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *fakeAck) snapshot() []ackCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ackCall(nil), f.calls...)
}

func (f *fakeAck) count(kind string) int {
	n := 0
	for _, c := range f.snapshot() {
		if c.kind == kind {
			n++
		}
	}
	return n
}

type retryCall struct {
	raw   amqp.Delivery
	retry int
}

// fakePublisher реализует Republisher.
type fakePublisher struct {
	mu    sync.Mutex
	calls []retryCall
	err   error
}

func (p *fakePublisher) PublishRetry(_ context.Context, raw amqp.Delivery, retry int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.calls = append(p.calls, retryCall{raw: raw, retry: retry})
	return nil
}

func (p *fakePublisher) retries() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int, len(p.calls))
	for i, c := range p.calls {
		out[i] = c.retry
	}
	return out
}

// countingExecutor считает вызовы Process.
type countingExecutor struct {
	calls atomic.Int32
	fn    func(ctx context.Context, evt domain.OrderCreatedEvent) Outcome
}

func (e *countingExecutor) Process(ctx context.Context, evt domain.OrderCreatedEvent) Outcome {
	e.calls.Add(1)
	if e.fn != nil {
		return e.fn(ctx, evt)
	}
	return Success()
}

// countingStore считает вызовы MarkProcessed.
type countingStore struct {
	*idempotency.MemoryStore
	marks atomic.Int32
	err   error
}

func (s *countingStore) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	s.marks.Add(1)
	if s.err != nil {
		return s.err
	}
	return s.MemoryStore.MarkProcessed(ctx, id)
}

func newEvent(amount int64) domain.OrderCreatedEvent {
	return domain.NewOrderCreatedEvent(decimal.NewFromInt(amount))
}

func newDelivery(t *testing.T, ack *fakeAck, tag uint64, evt domain.OrderCreatedEvent, retry int) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}

	var headers amqp.Table
	if retry > 0 {
		headers = mq.WithRetry(nil, retry)
	}

	return amqp.Delivery{
		Acknowledger: ack,
		DeliveryTag:  tag,
		Headers:      headers,
		ContentType:  "application/json",
		Body:         body,
	}
}

func newTestDispatcher(guard *idempotency.Guard, exec Executor, pub Republisher) *Dispatcher {
	return NewDispatcher(DispatcherConfig{
		Guard:       guard,
		Executor:    exec,
		Publisher:   pub,
		Concurrency: 4,
		Logger:      telemetry.DiscardLogger(),
	})
}

// --- Decide Tests ---

func TestDecide(t *testing.T) {
	boom := errors.New("boom")

	cases := []struct {
		name      string
		outcome   Outcome
		retry     int
		action    Action
		nextRetry int
	}{
		{"success", Success(), 0, ActionAck, 0},
		{"success at ceiling", Success(), MaxRetry, ActionAck, 0},
		{"cancelled", Cancelled(), 2, ActionReturn, 0},
		{"first failure", Failure(boom), 0, ActionRequeue, 1},
		{"second failure", Failure(boom), 1, ActionRequeue, 2},
		{"third failure", Failure(boom), 2, ActionRequeue, 3},
		{"fourth failure", Failure(boom), 3, ActionDeadLetter, 0},
		{"above ceiling", Failure(boom), 9, ActionDeadLetter, 0},
		{"negative retry", Failure(boom), -1, ActionRequeue, 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dec := Decide(tc.outcome, tc.retry)
			if dec.Action != tc.action {
				t.Fatalf("expected %s, got %s", tc.action, dec.Action)
			}
			if dec.NextRetry != tc.nextRetry {
				t.Errorf("expected next retry %d, got %d", tc.nextRetry, dec.NextRetry)
			}
		})
	}
}

func TestDecide_DeadLetterReason(t *testing.T) {
	dec := Decide(Failure(ErrSimulatedFailure), MaxRetry)

	if !errors.Is(dec.Reason, ErrRetryExhausted) {
		t.Errorf("expected ErrRetryExhausted, got %v", dec.Reason)
	}
}

// --- OrderExecutor Tests ---

func TestOrderExecutor_Success(t *testing.T) {
	exec := &OrderExecutor{Work: 10 * time.Millisecond}

	start := time.Now()
	out := exec.Process(context.Background(), newEvent(250))

	if out.Kind != OutcomeSuccess {
		t.Fatalf("expected success, got %s", out)
	}
	if time.Since(start) < 5*time.Millisecond {
		t.Error("should have waited for the simulated work")
	}
}

func TestOrderExecutor_FailAmount(t *testing.T) {
	exec := &OrderExecutor{Work: 10 * time.Second}

	out := exec.Process(context.Background(), newEvent(1000))

	if out.Kind != OutcomeFailure {
		t.Fatalf("expected failure, got %s", out)
	}
	if !errors.Is(out.Reason, ErrSimulatedFailure) {
		t.Errorf("expected ErrSimulatedFailure, got %v", out.Reason)
	}
}

func TestOrderExecutor_CustomFailAmount(t *testing.T) {
	exec := &OrderExecutor{Work: time.Millisecond, FailAmount: decimal.NewFromInt(42)}

	if out := exec.Process(context.Background(), newEvent(42)); out.Kind != OutcomeFailure {
		t.Errorf("expected failure for 42, got %s", out)
	}
	if out := exec.Process(context.Background(), newEvent(1000)); out.Kind != OutcomeSuccess {
		t.Errorf("expected success for 1000 with custom trigger, got %s", out)
	}
}

func TestOrderExecutor_Cancelled(t *testing.T) {
	exec := &OrderExecutor{Work: 10 * time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Отменяем сразу

	out := exec.Process(ctx, newEvent(300))
	if out.Kind != OutcomeCancelled {
		t.Fatalf("expected cancelled, got %s", out)
	}
}

func TestNewOrderExecutor_Defaults(t *testing.T) {
	exec := NewOrderExecutor()

	if exec.Work != time.Second {
		t.Errorf("expected 1s work, got %v", exec.Work)
	}
	if !exec.FailAmount.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("expected fail amount 1000, got %s", exec.FailAmount)
	}
}

// --- Dispatcher.Handle Tests ---

func TestDispatcher_Handle_Success(t *testing.T) {
	ack := &fakeAck{}
	guard := idempotency.NewGuard(nil)
	exec := &countingExecutor{}
	d := newTestDispatcher(guard, exec, &fakePublisher{})
	evt := newEvent(100)

	dec := d.Handle(context.Background(), newDelivery(t, ack, 1, evt, 0))

	if dec.Action != ActionAck {
		t.Fatalf("expected ack, got %s", dec.Action)
	}
	ok, _ := guard.IsProcessed(context.Background(), evt.OrderID)
	if !ok {
		t.Error("order should be processed")
	}
	calls := ack.snapshot()
	if len(calls) != 1 || calls[0].kind != "ack" || calls[0].tag != 1 {
		t.Errorf("expected single ack for tag 1, got %+v", calls)
	}
	if guard.InFlight() != 0 {
		t.Errorf("claim should be released, in-flight=%d", guard.InFlight())
	}
}

func TestDispatcher_Handle_DuplicateProcessedOnce(t *testing.T) {
	ack := &fakeAck{}
	guard := idempotency.NewGuard(nil)
	exec := &countingExecutor{}
	d := newTestDispatcher(guard, exec, &fakePublisher{})
	evt := newEvent(500)

	first := d.Handle(context.Background(), newDelivery(t, ack, 1, evt, 0))
	second := d.Handle(context.Background(), newDelivery(t, ack, 2, evt, 0)) // дубликат

	if first.Action != ActionAck {
		t.Errorf("first delivery: expected ack, got %s", first.Action)
	}
	if second.Action != ActionSkip {
		t.Errorf("duplicate: expected skip, got %s", second.Action)
	}
	if exec.calls.Load() != 1 {
		t.Errorf("domain logic should run once, ran %d times", exec.calls.Load())
	}
	if ack.count("ack") != 2 {
		t.Errorf("both deliveries should be acked, got %+v", ack.snapshot())
	}
	ok, _ := guard.IsProcessed(context.Background(), evt.OrderID)
	if !ok {
		t.Error("order should be processed")
	}
}

func TestDispatcher_Handle_FailureLeavesUnprocessed(t *testing.T) {
	ack := &fakeAck{}
	guard := idempotency.NewGuard(nil)
	pub := &fakePublisher{}
	d := newTestDispatcher(guard, &OrderExecutor{Work: time.Millisecond}, pub)
	evt := newEvent(1000)

	dec := d.Handle(context.Background(), newDelivery(t, ack, 1, evt, 0))

	if dec.Action != ActionRequeue || dec.NextRetry != 1 {
		t.Fatalf("expected requeue(1), got %s(%d)", dec.Action, dec.NextRetry)
	}
	ok, _ := guard.IsProcessed(context.Background(), evt.OrderID)
	if ok {
		t.Error("failed order must not be marked as processed")
	}
	if got := pub.retries(); len(got) != 1 || got[0] != 1 {
		t.Errorf("expected one republish with retry 1, got %v", got)
	}
	// Оригинал подтверждён после повторной публикации
	if calls := ack.snapshot(); len(calls) != 1 || calls[0].kind != "ack" {
		t.Errorf("original should be acked after republish, got %+v", calls)
	}
}

func TestDispatcher_RetryCeiling(t *testing.T) {
	ack := &fakeAck{}
	pub := &fakePublisher{}
	d := newTestDispatcher(idempotency.NewGuard(nil), &OrderExecutor{Work: time.Millisecond}, pub)

	raw := newDelivery(t, ack, 1, newEvent(1000), 0)

	// Прогоняем доставку по цепочке повторов, как это сделал бы брокер
	var actions []Action
	for i := 0; i < 10; i++ {
		dec := d.Handle(context.Background(), raw)
		actions = append(actions, dec.Action)
		if dec.Action != ActionRequeue {
			break
		}

		last := pub.calls[len(pub.calls)-1]
		raw = amqp.Delivery{
			Acknowledger: ack,
			DeliveryTag:  raw.DeliveryTag + 1,
			Headers:      mq.WithRetry(last.raw.Headers, last.retry),
			Body:         last.raw.Body,
		}
	}

	want := []Action{ActionRequeue, ActionRequeue, ActionRequeue, ActionDeadLetter}
	if len(actions) != len(want) {
		t.Fatalf("expected actions %v, got %v", want, actions)
	}
	for i := range want {
		if actions[i] != want[i] {
			t.Fatalf("expected actions %v, got %v", want, actions)
		}
	}

	if got := pub.retries(); len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Errorf("expected retries [1 2 3], got %v", got)
	}

	calls := ack.snapshot()
	lastCall := calls[len(calls)-1]
	if lastCall.kind != "reject" || lastCall.requeue || lastCall.tag != 4 {
		t.Errorf("4th failure should be rejected without requeue, got %+v", lastCall)
	}
	if ack.count("reject") != 1 {
		t.Errorf("expected exactly one reject, got %+v", calls)
	}
}

func TestDispatcher_Handle_DecodeFailure(t *testing.T) {
	ack := &fakeAck{}
	pub := &fakePublisher{}
	exec := &countingExecutor{}
	d := newTestDispatcher(idempotency.NewGuard(nil), exec, pub)

	raw := amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte("not json")}
	dec := d.Handle(context.Background(), raw)

	if dec.Action != ActionRequeue || dec.NextRetry != 1 {
		t.Fatalf("malformed body should follow the failure path, got %s(%d)", dec.Action, dec.NextRetry)
	}
	if !errors.Is(dec.Reason, domain.ErrMalformedEvent) {
		t.Errorf("expected ErrMalformedEvent reason, got %v", dec.Reason)
	}
	if exec.calls.Load() != 0 {
		t.Error("executor must not run for a malformed body")
	}

	// На потолке — в DLQ
	raw = amqp.Delivery{Acknowledger: ack, DeliveryTag: 2, Headers: mq.WithRetry(nil, MaxRetry), Body: []byte("not json")}
	dec = d.Handle(context.Background(), raw)
	if dec.Action != ActionDeadLetter {
		t.Errorf("expected dead letter at ceiling, got %s", dec.Action)
	}
}

func TestDispatcher_Handle_CancelledBeforeHandling(t *testing.T) {
	ack := &fakeAck{}
	guard := idempotency.NewGuard(nil)
	exec := &countingExecutor{}
	d := newTestDispatcher(guard, exec, &fakePublisher{})
	evt := newEvent(300)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dec := d.Handle(ctx, newDelivery(t, ack, 1, evt, 0))

	if dec.Action != ActionReturn {
		t.Fatalf("expected return, got %s", dec.Action)
	}
	if exec.calls.Load() != 0 {
		t.Error("executor must not run after cancellation")
	}
	calls := ack.snapshot()
	if len(calls) != 1 || calls[0].kind != "nack" || !calls[0].requeue {
		t.Errorf("expected nack with requeue, got %+v", calls)
	}
	ok, _ := guard.IsProcessed(context.Background(), evt.OrderID)
	if ok {
		t.Error("cancelled order must not be processed")
	}
}

func TestDispatcher_Handle_CancelledDuringExecution(t *testing.T) {
	ack := &fakeAck{}
	guard := idempotency.NewGuard(nil)
	pub := &fakePublisher{}
	d := newTestDispatcher(guard, &OrderExecutor{Work: 10 * time.Second}, pub)
	evt := newEvent(300)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	dec := d.Handle(ctx, newDelivery(t, ack, 1, evt, 2))

	if dec.Action != ActionReturn {
		t.Fatalf("expected return, got %s", dec.Action)
	}
	if len(pub.retries()) != 0 {
		t.Error("cancellation must not consume a retry")
	}
	ok, _ := guard.IsProcessed(context.Background(), evt.OrderID)
	if ok {
		t.Error("cancelled order must not be processed")
	}
	if guard.InFlight() != 0 {
		t.Errorf("claim should be released, in-flight=%d", guard.InFlight())
	}
}

func TestDispatcher_Handle_ConcurrentDuplicates(t *testing.T) {
	ack := &fakeAck{}
	store := &countingStore{MemoryStore: idempotency.NewMemoryStore()}
	guard := idempotency.NewGuard(store)
	exec := &countingExecutor{fn: func(ctx context.Context, _ domain.OrderCreatedEvent) Outcome {
		time.Sleep(20 * time.Millisecond)
		return Success()
	}}
	d := newTestDispatcher(guard, exec, &fakePublisher{})
	evt := newEvent(100)

	const n = 20
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		raw := newDelivery(t, ack, uint64(i+1), evt, 0)
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			d.Handle(context.Background(), raw)
		}()
	}
	close(start)
	wg.Wait()

	if exec.calls.Load() != 1 {
		t.Errorf("expected exactly one execution, got %d", exec.calls.Load())
	}
	if store.marks.Load() != 1 {
		t.Errorf("expected exactly one MarkProcessed, got %d", store.marks.Load())
	}
	if ack.count("ack") != n {
		t.Errorf("all %d deliveries should be acked, got %+v", n, ack.snapshot())
	}
}

func TestDispatcher_Handle_FiveDistinctOrders(t *testing.T) {
	ack := &fakeAck{}
	guard := idempotency.NewGuard(nil)
	d := newTestDispatcher(guard, &OrderExecutor{Work: time.Millisecond}, &fakePublisher{})

	events := make([]domain.OrderCreatedEvent, 5)
	for i := range events {
		events[i] = newEvent(100)
		d.Handle(context.Background(), newDelivery(t, ack, uint64(i+1), events[i], 0))
	}

	for _, evt := range events {
		ok, _ := guard.IsProcessed(context.Background(), evt.OrderID)
		if !ok {
			t.Errorf("order %s was not processed", evt.OrderID)
		}
	}
}

func TestDispatcher_Handle_RepublishFailure(t *testing.T) {
	ack := &fakeAck{}
	pub := &fakePublisher{err: errors.New("channel closed")}
	d := newTestDispatcher(idempotency.NewGuard(nil), &OrderExecutor{Work: time.Millisecond}, pub)

	d.Handle(context.Background(), newDelivery(t, ack, 1, newEvent(1000), 1))

	// Оригинал не подтверждается и не возвращается с тем же счётчиком: уходит в DLQ
	calls := ack.snapshot()
	if len(calls) != 1 || calls[0].kind != "reject" || calls[0].requeue {
		t.Errorf("original must be dead-lettered when republish fails: %+v", calls)
	}
}

func TestDispatcher_Handle_RepublishFailureIsBounded(t *testing.T) {
	ack := &fakeAck{}
	pub := &fakePublisher{err: mq.ErrPublishNacked}
	exec := &countingExecutor{fn: func(context.Context, domain.OrderCreatedEvent) Outcome {
		return Failure(ErrSimulatedFailure)
	}}
	d := newTestDispatcher(idempotency.NewGuard(nil), exec, pub)
	evt := newEvent(1000)

	// Даже если брокер доставит то же сообщение ещё раз, ни одна доставка
	// не возвращается в очередь с прежним счётчиком
	const redeliveries = 20
	for i := 0; i < redeliveries; i++ {
		d.Handle(context.Background(), newDelivery(t, ack, uint64(i+1), evt, 0))
	}

	for _, c := range ack.snapshot() {
		if c.kind == "nack" && c.requeue {
			t.Fatalf("failed republish must never requeue the original: %+v", c)
		}
	}
	if ack.count("reject") != redeliveries {
		t.Errorf("every delivery should be dead-lettered, got %+v", ack.snapshot())
	}
}

func TestDispatcher_Handle_MarkFailure(t *testing.T) {
	ack := &fakeAck{}
	store := &countingStore{MemoryStore: idempotency.NewMemoryStore(), err: errors.New("db down")}
	pub := &fakePublisher{}
	d := newTestDispatcher(idempotency.NewGuard(store), &countingExecutor{}, pub)
	evt := newEvent(100)

	dec := d.Handle(context.Background(), newDelivery(t, ack, 1, evt, 0))

	if dec.Action != ActionRequeue {
		t.Fatalf("expected requeue when mark fails, got %s", dec.Action)
	}
	if !errors.Is(dec.Reason, ErrMarkFailed) {
		t.Errorf("expected ErrMarkFailed, got %v", dec.Reason)
	}
	ok, _ := store.IsProcessed(context.Background(), evt.OrderID)
	if ok {
		t.Error("order must not be processed when mark fails")
	}
}

// --- Router Tests ---

func TestRouter_Finalize_CeilingEnforced(t *testing.T) {
	ack := &fakeAck{}
	pub := &fakePublisher{}
	r := NewRouter(pub, telemetry.DiscardLogger())

	d := &Delivery{Tag: 9, RetryCount: MaxRetry, Raw: amqp.Delivery{Acknowledger: ack, DeliveryTag: 9}}
	outcome, err := r.Finalize(context.Background(), d, Decision{Action: ActionRequeue, NextRetry: MaxRetry + 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if outcome != telemetry.OutcomeDeadLettered {
		t.Errorf("expected dead_lettered, got %s", outcome)
	}
	if len(pub.retries()) != 0 {
		t.Error("must not republish above the ceiling")
	}
}

func TestRouter_Finalize_NoPublisher(t *testing.T) {
	ack := &fakeAck{}
	r := NewRouter(nil, telemetry.DiscardLogger())

	d := &Delivery{Tag: 1, Raw: amqp.Delivery{Acknowledger: ack, DeliveryTag: 1}}
	outcome, err := r.Finalize(context.Background(), d, Decision{Action: ActionRequeue, NextRetry: 1})
	if !errors.Is(err, ErrNoConnection) || !errors.Is(err, ErrRepublishFailed) {
		t.Fatalf("expected ErrRepublishFailed wrapping ErrNoConnection, got %v", err)
	}
	if outcome != telemetry.OutcomeDeadLettered {
		t.Errorf("expected dead_lettered, got %s", outcome)
	}
	if calls := ack.snapshot(); len(calls) != 1 || calls[0].kind != "reject" || calls[0].requeue {
		t.Errorf("expected reject without requeue, got %+v", calls)
	}
}

func TestRouter_Finalize_PublishNacked(t *testing.T) {
	ack := &fakeAck{}
	r := NewRouter(&fakePublisher{err: mq.ErrPublishNacked}, telemetry.DiscardLogger())

	d := &Delivery{Tag: 3, RetryCount: 1, Raw: amqp.Delivery{Acknowledger: ack, DeliveryTag: 3}}
	outcome, err := r.Finalize(context.Background(), d, Decision{Action: ActionRequeue, NextRetry: 2})
	if !errors.Is(err, mq.ErrPublishNacked) {
		t.Fatalf("expected ErrPublishNacked, got %v", err)
	}
	if outcome != telemetry.OutcomeDeadLettered {
		t.Errorf("expected dead_lettered, got %s", outcome)
	}
	if ack.count("ack") != 0 {
		t.Error("original must not be acked without a published copy")
	}
}

// --- Dispatcher.Run Tests ---

func TestDispatcher_Run_ProcessesUntilCancel(t *testing.T) {
	ack := &fakeAck{}
	guard := idempotency.NewGuard(nil)
	d := newTestDispatcher(guard, &countingExecutor{}, &fakePublisher{})

	deliveries := make(chan amqp.Delivery, 3)
	events := []domain.OrderCreatedEvent{newEvent(1), newEvent(2), newEvent(3)}
	for i, evt := range events {
		deliveries <- newDelivery(t, ack, uint64(i+1), evt, 0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx, deliveries) }()

	deadline := time.After(2 * time.Second)
	for ack.count("ack") < 3 {
		select {
		case <-deadline:
			t.Fatalf("deliveries not processed in time: %+v", ack.snapshot())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("expected nil on cancel, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	for _, evt := range events {
		ok, _ := guard.IsProcessed(context.Background(), evt.OrderID)
		if !ok {
			t.Errorf("order %s was not processed", evt.OrderID)
		}
	}
}

func TestDispatcher_Run_ClosedChannel(t *testing.T) {
	d := newTestDispatcher(nil, &countingExecutor{}, &fakePublisher{})

	deliveries := make(chan amqp.Delivery)
	close(deliveries)

	err := d.Run(context.Background(), deliveries)
	if !errors.Is(err, mq.ErrDeliveriesClosed) {
		t.Fatalf("expected ErrDeliveriesClosed, got %v", err)
	}
}

func TestDispatcher_Run_DrainsAfterCancel(t *testing.T) {
	ack := &fakeAck{}
	guard := idempotency.NewGuard(nil)
	exec := &countingExecutor{}
	d := newTestDispatcher(guard, exec, &fakePublisher{})

	deliveries := make(chan amqp.Delivery, 3)
	for i := 0; i < 3; i++ {
		deliveries <- newDelivery(t, ack, uint64(i+1), newEvent(int64(i+1)), 0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := d.Run(ctx, deliveries); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if exec.calls.Load() != 0 {
		t.Errorf("executor must not run after cancellation, ran %d", exec.calls.Load())
	}
	calls := ack.snapshot()
	if len(calls) != 3 {
		t.Fatalf("expected 3 returned deliveries, got %+v", calls)
	}
	for _, c := range calls {
		if c.kind != "nack" || !c.requeue {
			t.Errorf("expected nack with requeue, got %+v", c)
		}
	}
}

func TestDispatcher_Run_CancelMidFlight(t *testing.T) {
	ack := &fakeAck{}
	guard := idempotency.NewGuard(nil)
	started := make(chan struct{})
	exec := &countingExecutor{fn: func(ctx context.Context, _ domain.OrderCreatedEvent) Outcome {
		close(started)
		<-ctx.Done()
		return Cancelled()
	}}
	d := newTestDispatcher(guard, exec, &fakePublisher{})
	evt := newEvent(10)

	deliveries := make(chan amqp.Delivery, 1)
	deliveries <- newDelivery(t, ack, 1, evt, 0)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx, deliveries) }()

	<-started
	cancel()

	if err := <-errCh; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Run вернулся только после финализации доставки
	calls := ack.snapshot()
	if len(calls) != 1 || calls[0].kind != "nack" || !calls[0].requeue {
		t.Errorf("in-flight delivery should be returned to queue, got %+v", calls)
	}
	ok, _ := guard.IsProcessed(context.Background(), evt.OrderID)
	if ok {
		t.Error("cancelled order must not be processed")
	}
}

// --- Worker Tests ---

func TestNew_Defaults(t *testing.T) {
	w := New(Config{Logger: telemetry.DiscardLogger()})

	if w.prefetch != defaultPrefetch {
		t.Errorf("expected prefetch %d, got %d", defaultPrefetch, w.prefetch)
	}
	if w.Dispatcher().concurrency != defaultPrefetch {
		t.Errorf("concurrency should default to prefetch, got %d", w.Dispatcher().concurrency)
	}
	if w.Dispatcher().Guard() == nil {
		t.Error("guard should default to in-memory")
	}
}

func TestNew_ConcurrencyCappedByPrefetch(t *testing.T) {
	w := New(Config{Prefetch: 2, Concurrency: 10, Logger: telemetry.DiscardLogger()})

	if w.Dispatcher().concurrency != 2 {
		t.Errorf("expected concurrency 2, got %d", w.Dispatcher().concurrency)
	}
}

func TestWorker_StartWithoutConnection(t *testing.T) {
	w := New(Config{Logger: telemetry.DiscardLogger()})

	if err := w.Start(context.Background()); !errors.Is(err, ErrNoConnection) {
		t.Fatalf("expected ErrNoConnection, got %v", err)
	}
}

func TestWorker_StopIdempotent(t *testing.T) {
	w := New(Config{Logger: telemetry.DiscardLogger()})

	w.Stop()
	w.Stop()

	if !w.IsStopped() {
		t.Error("worker should be stopped")
	}
}
