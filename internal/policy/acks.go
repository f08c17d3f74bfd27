package policy

import "math/rand/v2"

// DefaultAcks are the lightweight replies used for ambient presence.
var DefaultAcks = []string{"👍", "😂", "🙌", "💯", "🔥", "❤️", "haha", "nice!", "lol"}

// PickAck returns a random entry from acks, or DefaultAcks when empty.
func PickAck(acks []string, rnd func() float64) string {
	if len(acks) == 0 {
		acks = DefaultAcks
	}
	if rnd == nil {
		rnd = rand.Float64
	}
	i := int(rnd() * float64(len(acks)))
	if i >= len(acks) {
		i = len(acks) - 1
	}
	return acks[i]
}
