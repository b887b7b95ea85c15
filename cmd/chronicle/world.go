package main

import (
	"github.com/codewandler/chronicle-go/core/es"
	"github.com/codewandler/chronicle-go/core/es/guard"
)

type (
	World struct {
		History []string `json:"history"`
	}

	SomethingHappened struct {
		What string `json:"what"`
	}
)

func (SomethingHappened) EventType() string { return "world.SomethingHappened" }

func worldSchema() *es.Schema[World] {
	return es.On(es.NewSchema[World]("world"), func(w *World, e SomethingHappened) error {
		w.History = append(w.History, e.What)
		return nil
	})
}

func makeItSo(w *es.Root[World], what string) error {
	return guard.Trigger(w, SomethingHappened{What: what}, guard.NotBlank(what, "what"))
}
