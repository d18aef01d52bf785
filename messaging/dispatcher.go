package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"plastron.evalgo.org/common"
	"plastron.evalgo.org/handles"
	"plastron.evalgo.org/imports"
	"plastron.evalgo.org/jobs"
	"plastron.evalgo.org/ldp"
	"plastron.evalgo.org/model"
	"plastron.evalgo.org/publish"
	"plastron.evalgo.org/spreadsheet"
	"plastron.evalgo.org/updates"
)

// Destinations names the broker queues and topics the dispatcher uses.
type Destinations struct {
	// Jobs is the asynchronous command queue.
	Jobs string

	// JobsSynchronous is the command queue whose responses go to the
	// message's reply-to destination.
	JobsSynchronous string

	// JobStatus receives terminal responses of asynchronous jobs.
	JobStatus string

	// JobProgress is the topic progress events stream to.
	JobProgress string
}

// Options configure a dispatcher.
type Options struct {
	Broker Broker
	Boxes  *Boxes

	// Store holds the job directories.
	Store *jobs.Store

	// Client is the repository client handed to the engines.
	Client *ldp.Client

	Destinations Destinations

	// PoolSize bounds concurrent job workers.
	PoolSize int

	// Handle service wiring, passed through to the engines.
	Handles          *handles.Client
	HandlePrefix     string
	PublicURLPattern string

	// KeepAlive is the transaction keep-alive interval for the engines.
	KeepAlive time.Duration

	// Reconnect backoff bounds.
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration

	Logger *logrus.Entry
}

// Dispatcher receives job commands from the broker and runs them. One
// dispatcher owns the connection manager, the inbox watcher, and the
// worker pool.
type Dispatcher struct {
	opts   Options
	work   chan string
	wg     sync.WaitGroup
	logger *logrus.Entry
}

// NewDispatcher builds a dispatcher.
func NewDispatcher(opts Options) (*Dispatcher, error) {
	if opts.Broker == nil {
		return nil, fmt.Errorf("dispatcher requires a broker")
	}
	if opts.Boxes == nil {
		return nil, fmt.Errorf("dispatcher requires message boxes")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("dispatcher requires a job store")
	}
	if opts.PoolSize < 1 {
		opts.PoolSize = 1
	}
	if opts.ReconnectInitialDelay == 0 {
		opts.ReconnectInitialDelay = time.Second
	}
	if opts.ReconnectMaxDelay == 0 {
		opts.ReconnectMaxDelay = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = common.ComponentLogger("dispatcher")
	}
	return &Dispatcher{
		opts:   opts,
		work:   make(chan string, opts.PoolSize*4),
		logger: logger,
	}, nil
}

// Run operates the dispatcher until the context is cancelled: workers
// drain the inbox, the watcher feeds them, and the connection manager
// keeps the broker subscription alive, replaying the outbox on every
// (re)connect.
func (d *Dispatcher) Run(ctx context.Context) error {
	for i := 0; i < d.opts.PoolSize; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := WatchInbox(ctx, d.opts.Boxes.InboxDir(), d.enqueue, d.logger); err != nil && ctx.Err() == nil {
			d.logger.WithError(err).Error("Inbox watcher stopped")
		}
	}()

	// Commands persisted before a restart have no watcher event; pick
	// them up now.
	pending, err := d.opts.Boxes.ListInbox()
	if err != nil {
		return err
	}
	for _, jobID := range pending {
		d.enqueue(jobID)
	}

	d.connectionLoop(ctx)

	d.wg.Wait()
	return ctx.Err()
}

func (d *Dispatcher) enqueue(jobID string) {
	select {
	case d.work <- jobID:
	default:
		// Pool backlog full; the entry stays in the inbox and is picked
		// up on the next restart.
		d.logger.WithField("job_id", jobID).Warn("Worker backlog full, leaving command in inbox")
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-d.work:
			d.handleJob(ctx, jobID)
		}
	}
}

// connectionLoop maintains the broker connection with exponential
// backoff, replaying the outbox before accepting new work on every
// successful connect.
func (d *Dispatcher) connectionLoop(ctx context.Context) {
	delay := d.opts.ReconnectInitialDelay
	for {
		if ctx.Err() != nil {
			return
		}
		if err := d.opts.Broker.Connect(); err != nil {
			d.logger.WithError(err).Warn("Broker connection failed")
			if !sleepCtx(ctx, delay) {
				return
			}
			delay = nextDelay(delay, d.opts.ReconnectMaxDelay)
			continue
		}
		delay = d.opts.ReconnectInitialDelay
		d.logger.Info("Connected to broker")

		d.ReplayOutbox()

		async, err := d.opts.Broker.Subscribe(d.opts.Destinations.Jobs)
		if err == nil {
			var synchronous <-chan Delivery
			synchronous, err = d.opts.Broker.Subscribe(d.opts.Destinations.JobsSynchronous)
			if err == nil {
				d.receive(ctx, async, synchronous)
			}
		}
		if err != nil {
			d.logger.WithError(err).Warn("Broker subscription failed")
		}

		if err := d.opts.Broker.Disconnect(); err != nil {
			d.logger.WithError(err).Debug("Broker disconnect failed")
		}
		if ctx.Err() != nil {
			return
		}
		if !sleepCtx(ctx, delay) {
			return
		}
		delay = nextDelay(delay, d.opts.ReconnectMaxDelay)
	}
}

// receive persists and acknowledges incoming commands until the context
// is cancelled or either subscription channel closes (connection lost).
func (d *Dispatcher) receive(ctx context.Context, async, synchronous <-chan Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-async:
			if !ok {
				return
			}
			d.accept(delivery)
		case delivery, ok := <-synchronous:
			if !ok {
				return
			}
			d.accept(delivery)
		}
	}
}

// accept persists one command to the inbox and acknowledges it. The inbox
// watcher's create event then enqueues the job.
func (d *Dispatcher) accept(delivery Delivery) {
	msg := delivery.Message
	jobID := msg.JobID()
	if jobID == "" {
		d.logger.Warn("Rejecting command without a job id")
		d.respondError("", msg.Get(HeaderReplyTo), fmt.Errorf("message has no %s header", HeaderJobID))
		if err := d.opts.Broker.Ack(delivery); err != nil {
			d.logger.WithError(err).Warn("Failed to ack broker message")
		}
		return
	}

	if err := d.opts.Boxes.WriteInbox(jobID, msg); err != nil {
		// Not acknowledged; the broker redelivers after reconnect.
		d.logger.WithField("job_id", jobID).WithError(err).Error("Failed to persist command")
		return
	}
	if err := d.opts.Broker.Ack(delivery); err != nil {
		d.logger.WithField("job_id", jobID).WithError(err).Warn("Failed to ack broker message")
	}
	d.logger.WithFields(logrus.Fields{
		"job_id":  jobID,
		"command": msg.Command(),
	}).Info("Received command")
}

// handleJob runs one persisted command end to end.
func (d *Dispatcher) handleJob(ctx context.Context, jobID string) {
	msg, err := d.opts.Boxes.ReadInbox(jobID)
	if err != nil {
		d.logger.WithField("job_id", jobID).WithError(err).Error("Failed to read inbox entry")
		return
	}

	response := d.dispatch(ctx, jobID, msg)
	d.deliver(jobID, msg.Get(HeaderReplyTo), response)
}

// dispatch routes a command to its engine and builds the terminal
// response.
func (d *Dispatcher) dispatch(ctx context.Context, jobID string, msg Message) Message {
	logger := d.logger.WithFields(logrus.Fields{"job_id": jobID, "command": msg.Command()})
	logger.Info("Running job")

	var response Message
	var err error
	switch msg.Command() {
	case CommandImport:
		response, err = d.runImport(ctx, jobID, msg)
	case CommandUpdate:
		response, err = d.runUpdate(ctx, jobID, msg)
	case CommandPublish:
		response, err = d.runPublication(ctx, jobID, msg, publish.ActionPublish)
	case CommandUnpublish:
		response, err = d.runPublication(ctx, jobID, msg, publish.ActionUnpublish)
	case CommandTemplate:
		response, err = d.runTemplate(jobID, msg)
	default:
		err = fmt.Errorf("unknown command %q", msg.Command())
	}
	if err != nil {
		logger.WithError(err).Error("Job failed")
		return errorResponse(jobID, err)
	}
	logger.WithField("state", response.Get(HeaderState)).Info("Job finished")
	return response
}

// deliver implements the terminal flow: persist to the outbox, send to
// the status queue (or the reply-to destination for synchronous jobs),
// then clear both boxes. When the send fails the boxes are kept; the
// outbox replay on the next (re)connect finishes the delivery.
func (d *Dispatcher) deliver(jobID, replyTo string, response Message) {
	destination := d.opts.Destinations.JobStatus
	if replyTo != "" {
		destination = replyTo
	}
	response.Set(HeaderDestination, destination)

	if jobID == "" {
		// No job id means no box entry; deliver best-effort.
		if err := d.opts.Broker.Send(destination, response); err != nil {
			d.logger.WithError(err).Warn("Failed to send error response")
		}
		return
	}

	if err := d.opts.Boxes.WriteOutbox(jobID, response); err != nil {
		d.logger.WithField("job_id", jobID).WithError(err).Error("Failed to persist response")
		return
	}
	if err := d.opts.Broker.Send(destination, response); err != nil {
		d.logger.WithField("job_id", jobID).WithError(err).
			Warn("Failed to send response, keeping it for outbox replay")
		return
	}
	d.clearBoxes(jobID)
}

// ReplayOutbox re-sends every undelivered terminal response, giving
// at-least-once delivery across broker outages and restarts.
func (d *Dispatcher) ReplayOutbox() {
	pending, err := d.opts.Boxes.ListOutbox()
	if err != nil {
		d.logger.WithError(err).Error("Failed to list outbox")
		return
	}
	for _, jobID := range pending {
		msg, err := d.opts.Boxes.ReadOutbox(jobID)
		if err != nil {
			d.logger.WithField("job_id", jobID).WithError(err).Error("Failed to read outbox entry")
			continue
		}
		destination := msg.Get(HeaderDestination)
		if destination == "" {
			destination = d.opts.Destinations.JobStatus
		}
		if err := d.opts.Broker.Send(destination, msg); err != nil {
			d.logger.WithField("job_id", jobID).WithError(err).Warn("Outbox replay failed")
			return
		}
		d.logger.WithField("job_id", jobID).Info("Replayed terminal response from outbox")
		d.clearBoxes(jobID)
	}
}

func (d *Dispatcher) clearBoxes(jobID string) {
	if err := d.opts.Boxes.DeleteOutbox(jobID); err != nil {
		d.logger.WithField("job_id", jobID).WithError(err).Warn("Failed to clear outbox entry")
	}
	if err := d.opts.Boxes.DeleteInbox(jobID); err != nil {
		d.logger.WithField("job_id", jobID).WithError(err).Warn("Failed to clear inbox entry")
	}
}

func (d *Dispatcher) respondError(jobID, replyTo string, cause error) {
	d.deliver(jobID, replyTo, errorResponse(jobID, cause))
}

// emitter builds the progress forwarder for a job and captures the final
// event for the terminal response body.
func (d *Dispatcher) emitter(jobID string, final *jobs.Event) jobs.Emitter {
	return func(ev jobs.Event) {
		if ev.Type == jobs.EventTypeFinal {
			*final = ev
			return
		}
		body, err := json.Marshal(ev)
		if err != nil {
			return
		}
		progress := Message{
			Headers: []Header{
				{Name: HeaderJobID, Value: jobID},
				{Name: headerContentType, Value: "application/json"},
			},
			Body: body,
		}
		if err := d.opts.Broker.Send(d.opts.Destinations.JobProgress, progress); err != nil {
			d.logger.WithField("job_id", jobID).WithError(err).Debug("Failed to stream progress")
		}
	}
}

func (d *Dispatcher) runImport(ctx context.Context, jobID string, msg Message) (Message, error) {
	args := msg.Args()
	cfg := &jobs.Config{
		JobID:            jobID,
		Model:            args["model"],
		AccessClass:      args["access"],
		MemberOf:         args["member-of"],
		ContainerPath:    args["container"],
		BinariesLocation: args["binaries-location"],
		ExtractTextTypes: args["extract-text-types"],
	}
	job, err := d.opts.Store.GetOrCreate(cfg)
	if err != nil {
		return Message{}, err
	}
	if len(msg.Body) > 0 {
		if err := job.SaveSource(msg.Body); err != nil {
			return Message{}, err
		}
	}
	run, err := job.NewRun()
	if err != nil {
		return Message{}, err
	}

	engine, err := imports.New(imports.Options{
		Client:           d.opts.Client,
		Job:              job,
		Run:              run,
		Limit:            intArg(args["limit"]),
		Percent:          intArg(args["percent"]),
		ValidateOnly:     boolArg(args["validate-only"]),
		KeepAlive:        d.opts.KeepAlive,
		Handles:          d.opts.Handles,
		HandlePrefix:     d.opts.HandlePrefix,
		PublicURLPattern: d.opts.PublicURLPattern,
	})
	if err != nil {
		return Message{}, err
	}

	var final jobs.Event
	state, err := engine.Run(ctx, d.emitter(jobID, &final))
	if err != nil {
		return Message{}, err
	}
	return terminalResponse(jobID, state, final)
}

func (d *Dispatcher) runUpdate(ctx context.Context, jobID string, msg Message) (Message, error) {
	args := msg.Args()
	job, err := d.opts.Store.GetOrCreate(&jobs.Config{JobID: jobID, Model: args["model"]})
	if err != nil {
		return Message{}, err
	}
	run, err := job.NewRun()
	if err != nil {
		return Message{}, err
	}

	engine, err := updates.New(updates.Options{
		Client:             d.opts.Client,
		Job:                job,
		Run:                run,
		URIs:               listArg(args["uris"]),
		Update:             string(msg.Body),
		Model:              args["model"],
		TraversePredicates: listArg(args["traverse"]),
		DryRun:             boolArg(args["dry-run"]),
		UseTransactions:    !boolArg(args["no-transactions"]),
		KeepAlive:          d.opts.KeepAlive,
	})
	if err != nil {
		return Message{}, err
	}

	var final jobs.Event
	state, err := engine.Run(ctx, d.emitter(jobID, &final))
	if err != nil {
		return Message{}, err
	}
	return terminalResponse(jobID, state, final)
}

func (d *Dispatcher) runPublication(ctx context.Context, jobID string, msg Message, action string) (Message, error) {
	args := msg.Args()
	engine := publish.New(publish.Options{
		Client:           d.opts.Client,
		JobID:            jobID,
		URIs:             listArg(args["uris"]),
		Action:           action,
		Hidden:           boolArg(args["hidden"]),
		Handles:          d.opts.Handles,
		HandlePrefix:     d.opts.HandlePrefix,
		PublicURLPattern: d.opts.PublicURLPattern,
	})

	var final jobs.Event
	state, err := engine.Run(ctx, d.emitter(jobID, &final))
	if err != nil {
		return Message{}, err
	}
	return terminalResponse(jobID, state, final)
}

// runTemplate answers the synchronous template command with a starter CSV
// for the named model.
func (d *Dispatcher) runTemplate(jobID string, msg Message) (Message, error) {
	name := msg.Args()["model"]
	m, err := model.Get(name)
	if err != nil {
		return Message{}, err
	}
	var body bytes.Buffer
	if err := spreadsheet.WriteTemplate(&body, m); err != nil {
		return Message{}, err
	}
	return Message{
		Headers: []Header{
			{Name: HeaderJobID, Value: jobID},
			{Name: HeaderState, Value: "template_success"},
			{Name: headerContentType, Value: "text/csv"},
		},
		Body: body.Bytes(),
	}, nil
}

// terminalResponse renders a final engine event as the status message.
func terminalResponse(jobID, state string, final jobs.Event) (Message, error) {
	body, err := json.Marshal(final)
	if err != nil {
		return Message{}, fmt.Errorf("failed to serialize terminal event: %w", err)
	}
	return Message{
		Headers: []Header{
			{Name: HeaderJobID, Value: jobID},
			{Name: HeaderState, Value: state},
			{Name: headerContentType, Value: "application/json"},
		},
		Body: body,
	}, nil
}

// errorResponse is the distinct shape of failed commands.
func errorResponse(jobID string, cause error) Message {
	body, _ := json.Marshal(map[string]string{"error": cause.Error()})
	return Message{
		Headers: []Header{
			{Name: HeaderJobID, Value: jobID},
			{Name: HeaderJobError, Value: cause.Error()},
			{Name: headerContentType, Value: "application/json"},
		},
		Body: body,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextDelay(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func boolArg(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

func intArg(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func listArg(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
