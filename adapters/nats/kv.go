package nats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/codewandler/chronicle-go/ports/kv"
)

const defaultCheckpointBucket = "chronicle_checkpoints"

type KvConfig struct {
	Connect Connector
	Bucket  string
	// Timeout bounds every single KV operation (default: 5s).
	Timeout time.Duration
}

// KvStore is a kv.Store on a JetStream key-value bucket.
type KvStore struct {
	kv      jetstream.KeyValue
	close   closeFunc
	timeout time.Duration
}

func NewKvStore(ctx context.Context, cfg KvConfig) (*KvStore, error) {
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = defaultCheckpointBucket
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

	bkt, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:   bucket,
		Storage:  jetstream.FileStorage,
		MaxBytes: 1024 * 1024,
	})
	if err != nil {
		closeConn()
		return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &KvStore{kv: bkt, close: closeConn, timeout: timeout}, nil
}

func (k *KvStore) Close() error {
	k.close()
	return nil
}

func (k *KvStore) Put(ctx context.Context, key string, data []byte) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	return k.kv.Put(ctx, kvKey(key), data)
}

func (k *KvStore) Get(ctx context.Context, key string) (kv.Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	v, err := k.kv.Get(ctx, kvKey(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return kv.Entry{}, kv.ErrNotFound
		}
		return kv.Entry{}, fmt.Errorf("get %s: %w", key, err)
	}
	return kv.Entry{Key: key, Data: v.Value(), Revision: v.Revision()}, nil
}

func (k *KvStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	return k.kv.Delete(ctx, kvKey(key))
}

// kvKey maps key onto the characters JetStream allows in KV keys.
func kvKey(key string) string {
	return strings.NewReplacer(":", "-", " ", "_", "*", "_", ">", "_").Replace(key)
}

var _ kv.Store = (*KvStore)(nil)

type CheckpointConfig struct {
	Connect Connector
	Bucket  string
	// Key names the consumer, e.g. the relay's stream name.
	Key string
}

// NewCheckpoint returns an es.CpStore on a JetStream KV bucket, and the
// KvStore behind it to close once the consumer has stopped.
func NewCheckpoint(ctx context.Context, cfg CheckpointConfig) (*kv.Checkpoint, *KvStore, error) {
	store, err := NewKvStore(ctx, KvConfig{Connect: cfg.Connect, Bucket: cfg.Bucket})
	if err != nil {
		return nil, nil, err
	}
	cp, err := kv.NewCheckpoint(store, cfg.Key)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return cp, store, nil
}
