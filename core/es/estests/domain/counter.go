package domain

import (
	"fmt"

	"github.com/codewandler/chronicle-go/core/es"
)

const (
	CounterType = "counter"
	CounterMax  = 24
)

type (
	Counter struct {
		Value          uint16 `json:"value"`
		NumIncrements  int    `json:"num_increments"`
		NumResets      int    `json:"num_resets"`
		NumTotalEvents int    `json:"num_total_events"`
	}

	Incremented struct {
		Inc   uint8 `json:"inc,omitempty"`
		Reset bool  `json:"reset,omitempty"`
	}
)

func (Incremented) EventType() string { return "counter.Incremented" }

// CounterSchema rejects increments past CounterMax in the transition itself.
func CounterSchema() *es.Schema[Counter] {
	s := es.NewSchema[Counter](CounterType)
	es.On(s, func(c *Counter, e Incremented) error {
		c.NumTotalEvents++

		if e.Inc > 0 {
			if c.Value+uint16(e.Inc) > CounterMax {
				return fmt.Errorf("counter cannot exceed %d", CounterMax)
			}
			c.Value += uint16(e.Inc)
			c.NumIncrements++
		}

		if e.Reset {
			c.Value = 0
			c.NumResets++
		}

		return nil
	})
	return s
}

func IncBy(c *es.Root[Counter], v uint8) error { return c.Trigger(Incremented{Inc: v}) }
func Reset(c *es.Root[Counter]) error          { return c.Trigger(Incremented{Reset: true}) }
