package workitem

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rzbill/pcs/internal/queue"
	logpkg "github.com/rzbill/pcs/pkg/log"
)

// SkipFilter decides whether a decoded message should be acknowledged
// without processing.
type SkipFilter interface {
	Skip(item WorkItem, msg *queue.Message) (bool, error)
}

// DeadLetterSink keeps a poison message after it leaves the queue.
type DeadLetterSink interface {
	Archive(ctx context.Context, msg *queue.Message, typ, workItemID string, cause error) error
}

// ConsumerOptions configures a Consumer.
type ConsumerOptions struct {
	Queue    queue.Receiver
	Scopes   *ScopeManager
	Registry *Registry
	Recorder Recorder
	Logger   logpkg.Logger

	PollInterval      time.Duration
	VisibilityTimeout time.Duration
	// VisibilityRenewInterval, when positive and supported by the queue,
	// extends the in-flight message's visibility while its processor runs.
	VisibilityRenewInterval time.Duration
	MaxRetries              int
	Skip                    SkipFilter
	// DeadLetter, when set, receives each poison message before it is
	// deleted.
	DeadLetter DeadLetterSink
}

// Consumer is the queue consumer loop of one worker process.
type Consumer struct {
	q        queue.Receiver
	scopes   *ScopeManager
	registry *Registry
	recorder Recorder
	logger   logpkg.Logger
	skip     SkipFilter
	dead     DeadLetterSink

	poll       time.Duration
	visibility time.Duration
	renew      time.Duration
	maxRetries int64
}

// NewConsumer validates opts.
func NewConsumer(opts ConsumerOptions) (*Consumer, error) {
	if opts.Queue == nil || opts.Scopes == nil || opts.Registry == nil {
		return nil, errors.New("workitem: Consumer requires Queue, Scopes and Registry")
	}
	if opts.MaxRetries < 1 {
		return nil, errors.New("workitem: MaxRetries must be >= 1")
	}
	c := &Consumer{
		q:          opts.Queue,
		scopes:     opts.Scopes,
		registry:   opts.Registry,
		recorder:   opts.Recorder,
		logger:     opts.Logger,
		skip:       opts.Skip,
		dead:       opts.DeadLetter,
		poll:       opts.PollInterval,
		visibility: opts.VisibilityTimeout,
		renew:      opts.VisibilityRenewInterval,
		maxRetries: int64(opts.MaxRetries),
	}
	if c.recorder == nil {
		c.recorder = NopRecorder{}
	}
	if c.logger == nil {
		c.logger = logpkg.NewLogger(logpkg.WithOutput(logpkg.NullOutput{}))
	}
	c.logger = c.logger.With(logpkg.Component("consumer"))
	if c.poll <= 0 {
		c.poll = time.Second
	}
	if c.visibility < 0 {
		c.visibility = 0
	}
	return c, nil
}

// Run processes messages until ctx is cancelled, returning nil in that case.
// Processing failures never end the loop; a receive failure does and is
// returned.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("consumer started",
		logpkg.Duration("poll_interval", c.poll),
		logpkg.Duration("visibility_timeout", c.visibility),
		logpkg.Int64("max_retries", c.maxRetries))
	defer c.logger.Info("consumer stopped")
	for {
		scope, err := c.scopes.BeginScopeWhenReady(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		idle, err := c.runOnce(ctx, scope)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if idle && !sleepCtx(ctx, c.poll) {
			return nil
		}
	}
}

// runOnce handles at most one message inside scope and always closes it.
// idle reports an empty queue.
func (c *Consumer) runOnce(ctx context.Context, scope *Scope) (idle bool, err error) {
	defer scope.Close()

	msg, err := c.q.Receive(ctx, c.visibility)
	if err != nil {
		return false, fmt.Errorf("workitem: receive: %w", err)
	}
	if msg == nil {
		return true, nil
	}
	log := c.logger.With(logpkg.Str("message_id", msg.ID), logpkg.Int64("dequeue_count", msg.DequeueCount))

	item, err := c.registry.Decode(msg.Body)
	if err != nil {
		typ, _ := PeekType(msg.Body)
		c.handleFailure(ctx, log, msg, typ, "", err)
		return false, nil
	}
	log = log.With(logpkg.Str("type", item.Type()), logpkg.Str("work_item_id", item.ID()))

	if c.skip != nil {
		skip, ferr := c.skip.Skip(item, msg)
		if ferr != nil {
			log.Warn("skip filter failed; processing normally", logpkg.Err(ferr))
		} else if skip {
			c.acknowledge(ctx, log, msg)
			c.recorder.Record(Event{Kind: EventSkipped, At: time.Now(), Type: item.Type(), WorkItemID: item.ID(), MessageID: msg.ID, DequeueCount: msg.DequeueCount, Success: true})
			log.Info("work item skipped by filter")
			return false, nil
		}
	}

	if err := scope.Initialize(item); err != nil {
		c.handleFailure(ctx, log, msg, item.Type(), item.ID(), err)
		return false, nil
	}

	stopRenew := c.startRenewal(ctx, log, msg)
	runErr := scope.Run(ctx)
	stopRenew()

	if runErr == nil {
		c.acknowledge(ctx, log, msg)
		return false, nil
	}
	if ctx.Err() != nil {
		log.Info("cancelled during processing; message left for redelivery", logpkg.Err(runErr))
		return false, nil
	}
	c.handleFailure(ctx, log, msg, item.Type(), item.ID(), runErr)
	return false, nil
}

// acknowledge deletes msg even if ctx was cancelled after the work finished.
func (c *Consumer) acknowledge(ctx context.Context, log logpkg.Logger, msg *queue.Message) {
	if err := c.q.Delete(context.WithoutCancel(ctx), msg.ID, msg.PopReceipt); err != nil {
		// at-least-once: the message reappears and is processed again
		log.Warn("delete after processing failed", logpkg.Err(err))
	}
}

func (c *Consumer) handleFailure(ctx context.Context, log logpkg.Logger, msg *queue.Message, typ, itemID string, cause error) {
	ev := Event{
		At:           time.Now(),
		Type:         typ,
		WorkItemID:   itemID,
		MessageID:    msg.ID,
		DequeueCount: msg.DequeueCount,
		Error:        errString(cause),
	}
	if msg.DequeueCount >= c.maxRetries {
		ev.Kind = EventPoison
		if c.dead != nil {
			if err := c.dead.Archive(context.WithoutCancel(ctx), msg, typ, itemID, cause); err != nil {
				log.Error("failed to archive poison message", logpkg.Err(err))
			}
		}
		if err := c.q.Delete(context.WithoutCancel(ctx), msg.ID, msg.PopReceipt); err != nil {
			log.Error("failed to delete poison message", logpkg.Err(err))
		}
		c.recorder.Record(ev)
		log.Error("work item failed permanently; message deleted", logpkg.Err(cause))
		return
	}
	ev.Kind = EventTransientFailure
	c.recorder.Record(ev)
	log.Warn("work item failed; will retry", logpkg.Int64("max_retries", c.maxRetries), logpkg.Err(cause))
}

// startRenewal keeps msg invisible while its processor runs. The returned
// func stops renewal and waits for it.
func (c *Consumer) startRenewal(ctx context.Context, log logpkg.Logger, msg *queue.Message) func() {
	ext, ok := c.q.(queue.VisibilityExtender)
	if !ok || c.renew <= 0 || c.visibility <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(c.renew)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				if err := ext.ExtendVisibility(ctx, msg.ID, msg.PopReceipt, c.visibility); err != nil {
					log.Warn("visibility renewal failed", logpkg.Err(err))
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// sleepCtx waits d or until ctx is done; it reports whether d elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
