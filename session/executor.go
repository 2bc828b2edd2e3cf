package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/natspad/errors"
	"github.com/c360/natspad/logsink"
	"github.com/c360/natspad/metric"
	"github.com/c360/natspad/natsclient"
)

// Block meta keys written by Pull.
const (
	MetaStream   = "stream"
	MetaConsumer = "consumer"
	MetaCount    = "count"
)

// RequestOptions tunes a single request.
type RequestOptions struct {
	// Timeout bounds the wait for a response; zero means the session default.
	Timeout time.Duration
}

// PullOptions selects the JetStream consumer a Pull fetches from.
type PullOptions struct {
	// Stream defaults to the stream capturing Subject.
	Stream string
	// Consumer names a durable consumer. Empty creates an ephemeral consumer
	// filtered on Subject.
	Consumer string
	Subject  string
	Batch    int
	Timeout  time.Duration
}

// executor performs one-shot exchanges on shared connections.
type executor struct {
	conns          *ConnectionRegistry
	logger         *slog.Logger
	metrics        *metric.Metrics
	clock          func() time.Time
	requestTimeout time.Duration
	pullBatch      int
	pullTimeout    time.Duration
}

// request sends payload to subject and waits for the first response.
// Timeouts and missing responders are reported, never retried.
func (x *executor) request(ctx context.Context, server, subject, payload string, opts RequestOptions, headers map[string]string) (*logsink.Block, error) {
	const op = "SendRequest"
	if subject == "" {
		return nil, errors.Subject(op)
	}

	conn, err := x.conns.GetOrCreate(ctx, server)
	if err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = x.requestTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := conn.Conn().Request(reqCtx, subject, []byte(payload), headers)
	elapsed := time.Since(start)
	if err != nil {
		switch {
		case stderrors.Is(err, errors.ErrNoResponders),
			stderrors.Is(err, errors.ErrRequestTimeout),
			stderrors.Is(err, context.DeadlineExceeded):
			x.metrics.RecordRequest(metric.OutcomeTimeout, elapsed)
			x.logger.Debug("Request timed out", "subject", subject, "timeout", timeout, "error", err)
			return nil, errors.Timeout(op, fmt.Errorf("no response on %s within %v: %w", subject, timeout, err))
		default:
			x.metrics.RecordRequest(metric.OutcomeError, elapsed)
			return nil, errors.Connection(op, err)
		}
	}
	x.metrics.RecordRequest(metric.OutcomeOK, elapsed)

	block := logsink.NewBlock(x.clock()).
		Set(logsink.MetaConnection, conn.Describe()).
		Set(logsink.MetaSubject, subject).
		Add("Request", logsink.FormatBody([]byte(payload)), headers).
		Add("Response", logsink.FormatBody(resp.Data), natsclient.ReadHeader(resp.Header))
	return block, nil
}

// publish sends payload without waiting for anyone to receive it.
func (x *executor) publish(ctx context.Context, server, subject, payload string, headers map[string]string) (*logsink.Block, error) {
	const op = "Publish"
	if subject == "" {
		return nil, errors.Subject(op)
	}

	conn, err := x.conns.GetOrCreate(ctx, server)
	if err != nil {
		return nil, err
	}

	if err := conn.Conn().Publish(subject, []byte(payload), headers); err != nil {
		return nil, errors.Connection(op, err)
	}
	x.metrics.RecordPublish()

	block := logsink.NewBlock(x.clock()).
		Set(logsink.MetaConnection, conn.Describe()).
		Set(logsink.MetaSubject, subject).
		Add("Publish", logsink.FormatBody([]byte(payload)), headers)
	return block, nil
}

// pull fetches up to opts.Batch messages from a JetStream consumer and acks them.
func (x *executor) pull(ctx context.Context, server string, opts PullOptions) (*logsink.Block, error) {
	const op = "Pull"
	if opts.Subject == "" && (opts.Stream == "" || opts.Consumer == "") {
		return nil, errors.Subject(op)
	}
	batch := opts.Batch
	if batch <= 0 {
		batch = x.pullBatch
	}
	wait := opts.Timeout
	if wait <= 0 {
		wait = x.pullTimeout
	}

	conn, err := x.conns.GetOrCreate(ctx, server)
	if err != nil {
		return nil, err
	}
	jsConn, ok := conn.Conn().(natsclient.JetStreamer)
	if !ok {
		return nil, errors.Connection(op, errors.ErrNoJetStream)
	}
	js, err := jsConn.JetStream()
	if err != nil {
		return nil, errors.Connection(op, err)
	}

	stream := opts.Stream
	if stream == "" {
		stream, err = js.StreamNameBySubject(ctx, opts.Subject)
		if err != nil {
			return nil, errors.Validation(op, fmt.Errorf("no stream captures %s: %w", opts.Subject, err))
		}
	}

	consumer, err := x.consumer(ctx, js, stream, opts)
	if err != nil {
		return nil, err
	}

	msgs, err := consumer.Fetch(batch, jetstream.FetchMaxWait(wait))
	if err != nil {
		return nil, errors.Connection(op, err)
	}

	block := logsink.NewBlock(x.clock()).
		Set(logsink.MetaConnection, conn.Describe()).
		Set(MetaStream, stream)
	if opts.Consumer != "" {
		block.Set(MetaConsumer, opts.Consumer)
	}
	if opts.Subject != "" {
		block.Set(logsink.MetaSubject, opts.Subject)
	}

	count := 0
	for msg := range msgs.Messages() {
		count++
		block.Add("Message", logsink.FormatBody(msg.Data()), natsclient.ReadHeader(msg.Headers()))
		if err := msg.Ack(); err != nil {
			x.logger.Warn("Failed to ack pulled message", "stream", stream, "subject", msg.Subject(), "error", err)
		}
	}
	if err := msgs.Error(); err != nil && !stderrors.Is(err, nats.ErrTimeout) {
		x.logger.Debug("Fetch ended early", "stream", stream, "error", err)
	}

	block.Set(MetaCount, strconv.Itoa(count))
	if count == 0 {
		block.Add("Message", "no messages available", nil)
	}
	x.metrics.RecordPulled(count)
	return block, nil
}

func (x *executor) consumer(ctx context.Context, js jetstream.JetStream, stream string, opts PullOptions) (jetstream.Consumer, error) {
	const op = "Pull"
	if opts.Consumer != "" {
		c, err := js.Consumer(ctx, stream, opts.Consumer)
		if err != nil {
			return nil, errors.Validation(op, fmt.Errorf("consumer %s on stream %s: %w", opts.Consumer, stream, err))
		}
		return c, nil
	}

	c, err := js.CreateConsumer(ctx, stream, jetstream.ConsumerConfig{
		FilterSubject:     opts.Subject,
		AckPolicy:         jetstream.AckExplicitPolicy,
		DeliverPolicy:     jetstream.DeliverAllPolicy,
		InactiveThreshold: time.Minute,
	})
	if err != nil {
		return nil, errors.Connection(op, err)
	}
	return c, nil
}
