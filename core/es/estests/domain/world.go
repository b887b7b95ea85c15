// Package domain holds the aggregates the event store tests run against.
package domain

import (
	"github.com/codewandler/chronicle-go/core/es"
	"github.com/codewandler/chronicle-go/core/es/guard"
)

const WorldType = "world"

type (
	World struct {
		History []string `json:"history"`
	}

	SomethingHappened struct {
		What string `json:"what"`
	}
)

func (SomethingHappened) EventType() string { return "world.SomethingHappened" }

func WorldSchema() *es.Schema[World] {
	s := es.NewSchema[World](WorldType)
	es.On(s, func(w *World, e SomethingHappened) error {
		w.History = append(w.History, e.What)
		return nil
	})
	return s
}

// MakeItSo records that what happened.
func MakeItSo(w *es.Root[World], what string) error {
	return guard.Trigger(w, SomethingHappened{What: what}, guard.NotBlank(what, "what"))
}
