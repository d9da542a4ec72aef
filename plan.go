package bench

import (
	"math"
	"math/rand/v2"
)

// Seeds for the proportional shuffle. Changing them changes every
// proportional run's message order.
const (
	shuffleSeed1 = 0x5eed
	shuffleSeed2 = 0x7013
)

// Slot is one planned message.
type Slot struct {
	Topic string
	Size  int
}

// Plan decides how many messages each topic gets and in which order.
//
// Without a byte budget every topic is repeated RepeatMessageCount times,
// round-robin. With one, topic i gets floor(budget * p_i / size_i) slots and
// the concatenated slots are shuffled with a fixed seed.
func Plan(cfg *BenchmarkConfig) []Slot {
	if cfg.Proportional() {
		return planProportional(cfg.Topics, cfg.WriteTotalBytes)
	}
	return planFixed(cfg.Topics, cfg.RepeatMessageCount)
}

func planFixed(topics []TopicConfig, repeat int) []Slot {
	if repeat <= 0 || len(topics) == 0 {
		return nil
	}

	slots := make([]Slot, 0, repeat*len(topics))
	for i := 0; i < repeat; i++ {
		for _, t := range topics {
			slots = append(slots, Slot{Topic: t.Name, Size: t.MessageSize})
		}
	}
	return slots
}

// MessageCount returns the number of slots topic gets from budget.
func MessageCount(topic TopicConfig, budget int64) int {
	n := math.Floor(float64(budget) * topic.WriteProportion / float64(topic.MessageSize))
	if n <= 0 || math.IsNaN(n) {
		return 0
	}
	return int(n)
}

func planProportional(topics []TopicConfig, budget int64) []Slot {
	var slots []Slot
	for _, t := range topics {
		for n := MessageCount(t, budget); n > 0; n-- {
			slots = append(slots, Slot{Topic: t.Name, Size: t.MessageSize})
		}
	}

	rng := rand.New(rand.NewPCG(shuffleSeed1, shuffleSeed2))
	for i := len(slots) - 1; i > 0; i-- {
		j := rng.IntN(i + 1)
		slots[i], slots[j] = slots[j], slots[i]
	}
	return slots
}
