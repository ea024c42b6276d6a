// Package consumer feeds tasks from RabbitMQ into the judge one at a time and
// settles every delivery once its verdict is known.
package consumer

import (
	"context"
	"errors"
	"fmt"

	"github.com/HeRaNO/sandbox-judge-worker/metrics"
	"github.com/HeRaNO/sandbox-judge-worker/model"
	"github.com/HeRaNO/sandbox-judge-worker/util"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrDeliveriesClosed = errors.New("delivery channel closed")
	ErrMalformedTask    = errors.New("malformed task")
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Judge interface {
	Judge(ctx context.Context, task model.Task) model.Verdict
}

type Options struct {
	Exchange           string
	DeadLetterExchange string
	Environments       []string
	// RejectInternalError nacks deliveries whose verdict is internal_error
	// instead of acknowledging them.
	RejectInternalError bool
	Metrics             *metrics.Metrics
	Logger              *zap.Logger
}

type Consumer struct {
	ch      Channel
	judge   Judge
	opts    Options
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func New(ch Channel, judge Judge, opts Options) *Consumer {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Consumer{
		ch:      ch,
		judge:   judge,
		opts:    opts,
		metrics: opts.Metrics,
		logger:  opts.Logger,
	}
}

// Run declares the topology and handles deliveries until ctx is cancelled or
// a delivery channel closes. A task already being judged when ctx is
// cancelled is finished and settled before Run returns.
func (c *Consumer) Run(ctx context.Context) error {
	if len(c.opts.Environments) == 0 {
		return errors.New("no environments to consume")
	}
	if err := Setup(c.ch, c.opts.Exchange, c.opts.DeadLetterExchange, c.opts.Environments); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	in := make(chan amqp.Delivery)
	tags := make([]string, 0, len(c.opts.Environments))
	defer func() {
		for _, tag := range tags {
			if err := c.ch.Cancel(tag, false); err != nil {
				util.ErrorLog(c.logger, err, "cancel consumer", zap.String("tag", tag))
			}
		}
	}()
	for _, env := range c.opts.Environments {
		tag := "judge-" + env + "-" + uuid.NewString()
		deliveries, err := c.ch.Consume(env, tag, false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("consume %s: %w", env, err)
		}
		tags = append(tags, tag)
		g.Go(func() error { return forward(gctx, deliveries, in) })
	}
	c.logger.Info("consuming", zap.Strings("environments", c.opts.Environments))

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case d := <-in:
				if gctx.Err() != nil {
					// stopping; left unacked for redelivery
					return nil
				}
				c.Handle(gctx, d)
			}
		}
	})
	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func forward(ctx context.Context, deliveries <-chan amqp.Delivery, in chan<- amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return ErrDeliveriesClosed
			}
			select {
			case in <- d:
			case <-ctx.Done():
				// unacked; the broker redelivers it once the channel closes
				return nil
			}
		}
	}
}

// Handle judges one delivery and settles it. Cancellation of ctx does not
// interrupt judging or settling.
func (c *Consumer) Handle(ctx context.Context, d amqp.Delivery) {
	ctx = context.WithoutCancel(ctx)
	task, err := decodeTask(d)
	if err != nil {
		util.ErrorLog(c.logger, err, "decode task",
			zap.String("routingKey", d.RoutingKey),
			zap.Uint64("deliveryTag", d.DeliveryTag))
		c.metrics.Rejected()
		c.settle(d, false, task.ID)
		return
	}

	verdict := c.judge.Judge(ctx, task)
	if d.ReplyTo != "" {
		if err := c.reply(ctx, d, verdict); err != nil {
			util.ErrorLog(c.logger, err, "publish verdict", zap.String("task", task.ID))
		}
	}
	if !verdict.Completed() && c.opts.RejectInternalError {
		c.metrics.Rejected()
		c.settle(d, false, task.ID)
		return
	}
	c.settle(d, true, task.ID)
}

func (c *Consumer) settle(d amqp.Delivery, ack bool, taskID string) {
	var err error
	if ack {
		err = d.Ack(false)
	} else {
		err = d.Nack(false, false)
	}
	if err != nil {
		util.ErrorLog(c.logger, err, "settle delivery", zap.String("task", taskID), zap.Bool("ack", ack))
	}
}

func decodeTask(d amqp.Delivery) (model.Task, error) {
	var task model.Task
	if err := json.Unmarshal(d.Body, &task); err != nil {
		return task, fmt.Errorf("%w: %w", ErrMalformedTask, err)
	}
	if task.Environment == "" {
		task.Environment = d.RoutingKey
	}
	if task.Environment == "" {
		return task, fmt.Errorf("%w: no environment", ErrMalformedTask)
	}
	if task.ID == "" {
		task.ID = firstNonEmpty(d.MessageId, d.CorrelationId, uuid.NewString())
	}
	return task, nil
}

func firstNonEmpty(s ...string) string {
	for _, v := range s {
		if v != "" {
			return v
		}
	}
	return ""
}

func (c *Consumer) reply(ctx context.Context, d amqp.Delivery, v model.Verdict) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal verdict: %w", err)
	}
	return c.ch.PublishWithContext(ctx, "", d.ReplyTo, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: d.CorrelationId,
		Body:          body,
	})
}
