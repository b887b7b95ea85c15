// Package es persists event-sourced aggregates as hash-chained, encrypted
// event streams.
//
// # Overview
//
// Every aggregate is a stream of [DomainEvent] values keyed by an originator id.
// Each event carries the hash of its predecessor, so a stream is a hash chain
// that can be verified end to end with [EventStore.VerifyChain]. Event state is
// sealed with an AEAD [Cipher] before it reaches the [RecordStore]; the key is
// injected by the caller and never generated here.
//
// # Aggregates
//
// The state of an aggregate is a plain value S. A [Schema] maps event types to
// transitions on S, and a [Root] applies them:
//
//	type World struct{ History []string }
//
//	type SomethingHappened struct{ What string `json:"what"` }
//
//	func (SomethingHappened) EventType() string { return "world.SomethingHappened" }
//
//	schema := es.NewSchema[World]("world")
//	es.On(schema, func(w *World, e SomethingHappened) error {
//	    w.History = append(w.History, e.What)
//	    return nil
//	})
//
//	repo := es.NewRepo(env, schema)
//	world, _ := repo.Create()
//	_ = world.Trigger(SomethingHappened{What: "dinosaurs"})
//	_ = world.Save(ctx)
//
// The first event of every stream is [Created] (version 0); [Root.Discard]
// appends the [Discarded] tombstone, after which the id no longer exists.
//
// # Concurrency Control
//
// Writes are optimistic: [Repository.Save] appends at the version the root was
// loaded at, and [ErrConcurrencyConflict] is returned when another writer got
// there first. Nothing is retried; reload and try again.
//
// # Notification Log
//
// Every committed record gets a notification id, gapless and strictly
// increasing across all aggregates in commit order. [NotificationLog] reads
// them by position or in sections, and a [Consumer] follows the log with an
// optional checkpoint.
//
// # Environment
//
// [Env] wires a RecordStore, a Cipher and shared options together:
//
//	env, err := es.NewEnv(
//	    es.WithLog(logger),
//	    es.WithRecordStore(sqliteStore),
//	    es.WithKey(es.CipherAESGCM, key),
//	)
package es
