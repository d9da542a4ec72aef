package bench

import (
	"math/rand/v2"
	"time"

	"github.com/willibrandon/storagebench/storage"
)

var generatorSeed = [32]byte{'s', 't', 'o', 'r', 'a', 'g', 'e', 'b', 'e', 'n', 'c', 'h'}

// Generator fills message payloads from one continuing pseudo-random
// stream. It is not safe for concurrent use.
type Generator struct {
	src *rand.ChaCha8
}

// NewGenerator returns a generator with the fixed seed.
func NewGenerator() *Generator {
	return &Generator{src: rand.NewChaCha8(generatorSeed)}
}

// Next returns size bytes drawn from the stream.
func (g *Generator) Next(size int) []byte {
	buf := make([]byte, size)
	// #nosec G104 - ChaCha8.Read always fills the buffer
	g.src.Read(buf)
	return buf
}

// Materialize turns planned slots into messages, stamping each with the
// wall-clock time it was generated.
func Materialize(slots []Slot, g *Generator) []*storage.Message {
	msgs := make([]*storage.Message, len(slots))
	for i, s := range slots {
		msgs[i] = &storage.Message{
			Topic:     s.Topic,
			Timestamp: time.Now().UnixNano(),
			Data:      g.Next(s.Size),
		}
	}
	return msgs
}
