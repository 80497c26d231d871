package naming

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
)

// Generator produces fresh human-readable names for a category.
type Generator interface {
	Generate(ctx context.Context, category string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, category string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, category string) (string, error) {
	return f(ctx, category)
}

var adjectives = []string{
	"amber", "ancient", "bold", "brave", "bright", "calm", "clever", "cosmic",
	"crimson", "curious", "dancing", "distant", "eager", "electric", "fancy",
	"fierce", "gentle", "golden", "happy", "hidden", "icy", "jolly", "lucky",
	"mellow", "misty", "noble", "polar", "proud", "quiet", "rapid", "silent",
	"silver", "sleepy", "solar", "swift", "tidy", "velvet", "wild", "witty",
}

var categories = map[string][]string{
	"astronomy": {
		"andromeda", "aurora", "betelgeuse", "comet", "corona", "cosmos",
		"eclipse", "equinox", "galaxy", "halley", "kepler", "lyra", "meteor",
		"nebula", "nova", "orbit", "orion", "parsec", "pulsar", "quasar",
		"rigel", "saturn", "sirius", "solstice", "supernova", "vega", "zenith",
	},
	"animals": {
		"badger", "beaver", "bison", "falcon", "ferret", "gecko", "heron",
		"ibex", "jaguar", "koala", "lemur", "lynx", "marten", "moose", "narwhal",
		"ocelot", "otter", "panda", "puffin", "raven", "salmon", "stoat",
		"tapir", "walrus", "wombat", "yak", "zebra",
	},
}

// WordGenerator builds "adjective-noun" names from built-in word lists.
type WordGenerator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewWordGenerator returns a generator seeded with seed. Equal seeds give
// equal name sequences.
func NewWordGenerator(seed uint64) *WordGenerator {
	return &WordGenerator{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (g *WordGenerator) Generate(_ context.Context, category string) (string, error) {
	nouns, ok := categories[category]
	if !ok {
		return "", fmt.Errorf("unknown name category %q", category)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return adjectives[g.rng.IntN(len(adjectives))] + "-" + nouns[g.rng.IntN(len(nouns))], nil
}
