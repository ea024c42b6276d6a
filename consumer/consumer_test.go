package consumer_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/HeRaNO/sandbox-judge-worker/consumer"
	"github.com/HeRaNO/sandbox-judge-worker/model"
	jsoniter "github.com/json-iterator/go"
	amqp "github.com/rabbitmq/amqp091-go"
)

type fakeChannel struct {
	mu         sync.Mutex
	exchanges  []string
	queues     map[string]amqp.Table
	binds      map[string]string
	qos        [3]any
	deliveries map[string]chan amqp.Delivery
	cancelled  []string
	published  []amqp.Publishing
	replyKeys  []string
}

func newFakeChannel(envs ...string) *fakeChannel {
	ch := &fakeChannel{
		queues:     map[string]amqp.Table{},
		binds:      map[string]string{},
		deliveries: map[string]chan amqp.Delivery{},
	}
	for _, env := range envs {
		ch.deliveries[env] = make(chan amqp.Delivery, 16)
	}
	return ch
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if kind != amqp.ExchangeDirect || !durable {
		return errors.New("exchange must be durable direct")
	}
	f.exchanges = append(f.exchanges, name)
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !durable {
		return amqp.Queue{}, errors.New("queue must be durable")
	}
	f.queues[name] = args
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.binds[name] = exchange + "/" + key
	return nil
}

func (f *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.qos = [3]any{prefetchCount, prefetchSize, global}
	return nil
}

func (f *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	if autoAck {
		return nil, errors.New("deliveries must be acknowledged manually")
	}
	d, ok := f.deliveries[queue]
	if !ok {
		return nil, errors.New("no queue " + queue)
	}
	return d, nil
}

func (f *fakeChannel) Cancel(consumer string, noWait bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, consumer)
	return nil
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replyKeys = append(f.replyKeys, key)
	f.published = append(f.published, msg)
	return nil
}

type acker struct {
	mu      sync.Mutex
	acks    []uint64
	nacks   []uint64
	requeue bool
	settled chan uint64
}

func newAcker() *acker { return &acker{settled: make(chan uint64, 16)} }

func (a *acker) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	a.acks = append(a.acks, tag)
	a.mu.Unlock()
	a.settled <- tag
	return nil
}

func (a *acker) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	a.nacks = append(a.nacks, tag)
	a.requeue = a.requeue || requeue
	a.mu.Unlock()
	a.settled <- tag
	return nil
}

func (a *acker) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

type fakeJudge struct {
	status  model.Status
	delay   time.Duration
	running atomic.Int32
	peak    atomic.Int32
	mu      sync.Mutex
	tasks   []model.Task
}

func (j *fakeJudge) Judge(ctx context.Context, task model.Task) model.Verdict {
	n := j.running.Add(1)
	defer j.running.Add(-1)
	for {
		p := j.peak.Load()
		if n <= p || j.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(j.delay)
	j.mu.Lock()
	j.tasks = append(j.tasks, task)
	j.mu.Unlock()
	return model.Verdict{TaskID: task.ID, Environment: task.Environment, Status: j.status}
}

func delivery(a *acker, tag uint64, key, body string) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger:  a,
		DeliveryTag:   tag,
		RoutingKey:    key,
		ReplyTo:       "replies",
		CorrelationId: "cor-1",
		Body:          []byte(body),
	}
}

func TestSetup(t *testing.T) {
	ch := newFakeChannel()
	if err := consumer.Setup(ch, "tasks", "dead", []string{"python", "c"}); err != nil {
		t.Fatal(err)
	}
	if len(ch.exchanges) != 1 || ch.exchanges[0] != "tasks" {
		t.Fatalf("exchanges %v", ch.exchanges)
	}
	for _, env := range []string{"python", "c"} {
		if ch.binds[env] != "tasks/"+env {
			t.Fatalf("bind of %s = %q", env, ch.binds[env])
		}
		if ch.queues[env]["x-dead-letter-exchange"] != "dead" {
			t.Fatalf("queue %s args %v", env, ch.queues[env])
		}
	}
	if ch.qos != [3]any{1, 0, true} {
		t.Fatalf("qos %v", ch.qos)
	}
}

func TestHandle(t *testing.T) {
	tests := []struct {
		name   string
		status model.Status
		reject bool
		body   string
		key    string
		ack    bool
		judged bool
	}{
		{"passed is acked", model.Passed, true, `{"environment":"python","source":"print(1)"}`, "python", true, true},
		{"failed is acked", model.Failed, true, `{"environment":"python","source":"x"}`, "python", true, true},
		{"build error is acked", model.BuildError, true, `{"environment":"c","source":"x"}`, "c", true, true},
		{"internal error is rejected", model.InternalError, true, `{"environment":"python","source":"x"}`, "python", false, true},
		{"internal error acked when allowed", model.InternalError, false, `{"environment":"python","source":"x"}`, "python", true, true},
		{"invalid json is rejected", model.Passed, true, `{"environment":`, "python", false, false},
		{"no environment is rejected", model.Passed, true, `{"source":"x"}`, "", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := newFakeChannel()
			judge := &fakeJudge{status: tt.status}
			c := consumer.New(ch, judge, consumer.Options{RejectInternalError: tt.reject})
			a := newAcker()
			c.Handle(context.Background(), delivery(a, 7, tt.key, tt.body))

			if tt.ack && len(a.acks) != 1 || !tt.ack && len(a.nacks) != 1 {
				t.Fatalf("acks %v nacks %v", a.acks, a.nacks)
			}
			if a.requeue {
				t.Fatal("delivery requeued")
			}
			if got := len(judge.tasks) == 1; got != tt.judged {
				t.Fatalf("judged = %v", got)
			}
			if !tt.judged {
				if len(ch.published) != 0 {
					t.Fatal("reply published for undecodable task")
				}
				return
			}
			if len(ch.published) != 1 || ch.replyKeys[0] != "replies" || ch.published[0].CorrelationId != "cor-1" {
				t.Fatalf("unexpected reply %v %v", ch.replyKeys, ch.published)
			}
			var v model.Verdict
			if err := jsoniter.Unmarshal(ch.published[0].Body, &v); err != nil {
				t.Fatal(err)
			}
			if v.Status != tt.status {
				t.Fatalf("reply status %s, body %s", v.Status, ch.published[0].Body)
			}
		})
	}
}

func TestHandleTaskFallbacks(t *testing.T) {
	ch := newFakeChannel()
	judge := &fakeJudge{}
	c := consumer.New(ch, judge, consumer.Options{})
	a := newAcker()
	d := delivery(a, 1, "python", `{"source":"print(1)"}`)
	d.MessageId = "msg-9"
	d.ReplyTo = ""
	c.Handle(context.Background(), d)

	if len(judge.tasks) != 1 {
		t.Fatal("task not judged")
	}
	if task := judge.tasks[0]; task.Environment != "python" || task.ID != "msg-9" {
		t.Fatalf("unexpected task %+v", task)
	}
	if len(ch.published) != 0 {
		t.Fatal("reply published without ReplyTo")
	}
}

func TestRunSerializesDeliveries(t *testing.T) {
	envs := []string{"python", "c"}
	ch := newFakeChannel(envs...)
	judge := &fakeJudge{delay: 5 * time.Millisecond}
	c := consumer.New(ch, judge, consumer.Options{Exchange: "tasks", Environments: envs})
	a := newAcker()
	const n = 6
	for i := 0; i < n; i++ {
		env := envs[i%2]
		ch.deliveries[env] <- delivery(a, uint64(i), env, `{"source":"x"}`)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	for i := 0; i < n; i++ {
		select {
		case <-a.settled:
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d of %d deliveries settled", i, n)
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if peak := judge.peak.Load(); peak != 1 {
		t.Fatalf("%d tasks judged concurrently", peak)
	}
	if len(a.acks) != n {
		t.Fatalf("acks %v", a.acks)
	}
	if len(ch.cancelled) != len(envs) {
		t.Fatalf("cancelled consumers %v", ch.cancelled)
	}
}

type gateJudge struct {
	started chan string
	release chan struct{}
}

func (j *gateJudge) Judge(ctx context.Context, task model.Task) model.Verdict {
	j.started <- task.ID
	<-j.release
	return model.Verdict{TaskID: task.ID, Environment: task.Environment, Status: model.Passed}
}

func TestRunFinishesInflightOnShutdown(t *testing.T) {
	ch := newFakeChannel("python")
	judge := &gateJudge{started: make(chan string, 4), release: make(chan struct{})}
	c := consumer.New(ch, judge, consumer.Options{Exchange: "tasks", Environments: []string{"python"}})
	a := newAcker()
	ch.deliveries["python"] <- delivery(a, 1, "python", `{"id":"first","source":"x"}`)
	ch.deliveries["python"] <- delivery(a, 2, "python", `{"id":"second","source":"x"}`)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case id := <-judge.started:
		if id != "first" {
			t.Fatalf("judged %s first", id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("first task never started")
	}
	cancel()
	close(judge.release)

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	if len(a.acks) != 1 || a.acks[0] != 1 || len(a.nacks) != 0 {
		t.Fatalf("acks %v nacks %v", a.acks, a.nacks)
	}
	if len(judge.started) != 0 {
		t.Fatalf("a delivery was judged after shutdown began: %s", <-judge.started)
	}
	if len(ch.published) != 1 {
		t.Fatalf("in-flight task was not replied to: %d replies", len(ch.published))
	}
}

func TestRunDeliveriesClosed(t *testing.T) {
	ch := newFakeChannel("python")
	close(ch.deliveries["python"])
	c := consumer.New(ch, &fakeJudge{}, consumer.Options{Exchange: "tasks", Environments: []string{"python"}})
	if err := c.Run(context.Background()); !errors.Is(err, consumer.ErrDeliveriesClosed) {
		t.Fatalf("err = %v", err)
	}
}

func TestRunNoEnvironments(t *testing.T) {
	c := consumer.New(newFakeChannel(), &fakeJudge{}, consumer.Options{Exchange: "tasks"})
	if err := c.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
