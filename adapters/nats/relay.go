package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/codewandler/chronicle-go/core/es"
)

const (
	defaultSubjectPrefix = "chronicle.events"
	defaultStreamName    = "CHRONICLE_EVENTS"

	HeaderEventType         = "x-event-type"
	HeaderOriginatorID      = "x-originator-id"
	HeaderOriginatorVersion = "x-originator-version"
	HeaderNotificationID    = "x-notification-id"
)

// RetentionPolicy defines how messages are retained in the stream.
type RetentionPolicy int

const (
	// RetentionLimits keeps messages until MaxMsgs, MaxBytes or MaxAge is reached.
	RetentionLimits RetentionPolicy = iota

	// RetentionInterest keeps messages only while there are consumers with interest.
	RetentionInterest

	// RetentionWorkQueue deletes a message once any consumer acknowledged it.
	RetentionWorkQueue
)

func (r RetentionPolicy) toJetStream() jetstream.RetentionPolicy {
	switch r {
	case RetentionInterest:
		return jetstream.InterestPolicy
	case RetentionWorkQueue:
		return jetstream.WorkQueuePolicy
	default:
		return jetstream.LimitsPolicy
	}
}

type RelayConfig struct {
	Connect       Connector    // Connect is used to create the underlying NATS connection. If nil, ConnectDefault() is used.
	Log           *slog.Logger // Log for diagnostics (optional)
	SubjectPrefix string       // SubjectPrefix is prepended to <event_type>.<originator_id>
	StreamName    string
	RenameType    func(string) string

	// Retention defines the retention policy for the stream (default: RetentionLimits).
	Retention RetentionPolicy

	// At least one of MaxAge, MaxBytes, or MaxMsgs must be set to prevent unbounded growth.

	// MaxAge is the maximum age of messages in the stream.
	MaxAge time.Duration

	// MaxBytes is the maximum total size of messages in the stream.
	MaxBytes int64

	// MaxMsgs is the maximum number of messages in the stream.
	MaxMsgs int64

	// DuplicateWindow is how long JetStream remembers message ids (default: 2m).
	DuplicateWindow time.Duration
}

// Message is the body of a relayed notification. State stays encrypted; a
// subscriber holding the key decodes it with es.EventStore.Decode.
type Message struct {
	NotificationID    uint64     `json:"notification_id"`
	OriginatorID      string     `json:"originator_id"`
	OriginatorVersion es.Version `json:"originator_version"`
	EventType         string     `json:"event_type"`
	State             []byte     `json:"state"`
	PreviousHash      string     `json:"previous_hash"`
	EventHash         string     `json:"event_hash"`
}

// Record converts m back into the stored form.
func (m Message) Record() es.StoredRecord {
	return es.StoredRecord{
		OriginatorID:      m.OriginatorID,
		OriginatorVersion: m.OriginatorVersion,
		EventType:         m.EventType,
		State:             m.State,
		PreviousHash:      m.PreviousHash,
		EventHash:         m.EventHash,
		NotificationID:    m.NotificationID,
	}
}

// Relay publishes notifications to a JetStream stream. It is an es.Handler;
// run it with an es.Consumer and a checkpoint. Every message carries the
// notification id as its Nats-Msg-Id, so redelivery after a crash is
// deduplicated by the server within the duplicate window.
type Relay struct {
	nc            *natsgo.Conn
	close         closeFunc
	js            jetstream.JetStream
	stream        jetstream.Stream
	log           *slog.Logger
	subjectPrefix string
	streamName    string
	renameType    func(string) string
	closeOnce     sync.Once
}

func NewRelay(ctx context.Context, cfg RelayConfig) (*Relay, error) {
	if cfg.MaxAge == 0 && cfg.MaxBytes == 0 && cfg.MaxMsgs == 0 {
		return nil, errors.New("at least one retention limit must be set (MaxAge, MaxBytes, or MaxMsgs)")
	}

	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	nc, closeConn, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeConn()
		return nil, err
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	streamName := strings.ToUpper(cfg.StreamName)
	if streamName == "" {
		streamName = defaultStreamName
	}

	subjectPrefix := cfg.SubjectPrefix
	if subjectPrefix == "" {
		subjectPrefix = defaultSubjectPrefix
	}

	// 0 means unlimited in NATS for these fields
	maxBytes := cfg.MaxBytes
	if maxBytes == 0 {
		maxBytes = -1
	}
	maxMsgs := cfg.MaxMsgs
	if maxMsgs == 0 {
		maxMsgs = -1
	}

	log = log.With(
		slog.String("relay", "nats_js"),
		slog.String("stream", streamName),
		slog.String("subject_prefix", subjectPrefix),
	)

	stream, info, err := ensureStream(ctx, js, jetstream.StreamConfig{
		Name:       streamName,
		Subjects:   []string{subjectPrefix + ".>"},
		Retention:  cfg.Retention.toJetStream(),
		Storage:    jetstream.FileStorage,
		MaxAge:     cfg.MaxAge,
		MaxBytes:   maxBytes,
		MaxMsgs:    maxMsgs,
		Duplicates: cfg.DuplicateWindow,
	})
	if err != nil {
		closeConn()
		return nil, fmt.Errorf("ensure stream %s: %w", streamName, err)
	}

	log.Debug("ensured", slog.Uint64("messages", info.State.Msgs))

	return &Relay{
		nc:            nc,
		close:         closeConn,
		js:            js,
		stream:        stream,
		log:           log,
		subjectPrefix: subjectPrefix,
		streamName:    streamName,
		renameType:    cfg.RenameType,
	}, nil
}

func (r *Relay) StreamName() string             { return r.streamName }
func (r *Relay) Stream() jetstream.Stream       { return r.stream }
func (r *Relay) JetStream() jetstream.JetStream { return r.js }

// Consumer returns a consumer of env that feeds r and resumes from cp. It
// relays the encrypted state, so env needs no registered event types.
func (r *Relay) Consumer(env *es.Env, cp es.CpStore, opts ...es.ConsumerOption) *es.Consumer {
	return env.NewConsumer(
		r,
		es.WithConsumerName("relay-"+strings.ToLower(r.streamName)),
		es.WithCheckpoint(cp),
		es.WithRaw(),
		es.WithConsumerOpts(opts...),
	)
}

// Subject returns the subject notifications of eventType and originatorID are
// published to.
func (r *Relay) Subject(eventType, originatorID string) string {
	if r.renameType != nil {
		eventType = r.renameType(eventType)
	}
	return r.subjectPrefix + "." + subjectToken(eventType) + "." + subjectToken(originatorID)
}

// Handle publishes one notification and waits for the stream to acknowledge it.
func (r *Relay) Handle(msgCtx es.MsgCtx) error {
	n := msgCtx.Notification()

	data, err := json.Marshal(Message{
		NotificationID:    n.ID,
		OriginatorID:      n.OriginatorID,
		OriginatorVersion: n.OriginatorVersion,
		EventType:         n.EventType,
		State:             n.State,
		PreviousHash:      n.PreviousHash,
		EventHash:         n.EventHash,
	})
	if err != nil {
		return err
	}

	subject := r.Subject(n.EventType, n.OriginatorID)
	msg := natsgo.NewMsg(subject)
	msg.Header.Set(HeaderEventType, n.EventType)
	msg.Header.Set(HeaderOriginatorID, n.OriginatorID)
	msg.Header.Set(HeaderOriginatorVersion, strconv.FormatUint(uint64(n.OriginatorVersion), 10))
	msg.Header.Set(HeaderNotificationID, strconv.FormatUint(n.ID, 10))
	msg.Data = data

	ack, err := r.js.PublishMsg(
		msgCtx.Context(),
		msg,
		jetstream.WithMsgID(r.msgID(n.ID)),
		jetstream.WithExpectStream(r.streamName),
	)
	if err != nil {
		return fmt.Errorf("failed to publish to subject %s %s: %w", subject, n.EventType, err)
	}

	msgCtx.Log().Debug(
		"relayed",
		slog.String("subject", subject),
		slog.Uint64("seq", ack.Sequence),
		slog.Bool("duplicate", ack.Duplicate),
	)
	return nil
}

func (r *Relay) msgID(notificationID uint64) string {
	return r.streamName + ":" + strconv.FormatUint(notificationID, 10)
}

// Shutdown drains the connection. The consumer calls it on stop.
func (r *Relay) Shutdown(context.Context) error {
	return r.Close()
}

func (r *Relay) Close() error {
	r.closeOnce.Do(func() {
		r.close()
		r.log.Debug("closed relay")
	})
	return nil
}

// DecodeMsg parses a message published by a Relay.
func DecodeMsg(msg jetstream.Msg) (Message, error) {
	var m Message
	if err := json.Unmarshal(msg.Data(), &m); err != nil {
		return m, fmt.Errorf("decode relayed message %s: %w", msg.Subject(), err)
	}
	return m, nil
}

func ensureStream(ctx context.Context, js jetstream.JetStream, cfg jetstream.StreamConfig) (s jetstream.Stream, si *jetstream.StreamInfo, err error) {
	ctx, cancel := context.WithTimeout(ctx, 10*natsgo.DefaultTimeout)
	defer cancel()

	s, err = js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	si, err = s.Info(ctx)
	if err != nil {
		return nil, nil, err
	}
	return s, si, nil
}

// subjectToken replaces characters that would split or wildcard a subject token.
func subjectToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n':
			return '_'
		}
		return r
	}, s)
}

var (
	_ es.Handler                  = (*Relay)(nil)
	_ es.HandlerLifecycleShutdown = (*Relay)(nil)
)
