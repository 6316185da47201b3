// Package roomcode mints memorable room identifiers for hosted calls.
package roomcode

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

var creatures = []string{
	"kitten", "puppy", "bunny", "panda", "koala", "fox", "otter", "hedgehog", "squirrel", "hamster",
	"fawn", "lamb", "raccoon", "mole", "ferret", "beaver", "seahorse", "dolphin", "whale", "narwhal",
	"penguin", "flamingo", "pelican", "sparrow", "robin", "toucan", "parrot", "canary", "heron", "wren",
}

var dishes = []string{
	"pancake", "waffle", "sushi", "ramen", "curry", "taco", "burrito", "biryani", "paella", "risotto",
	"lasagna", "pizza", "dumpling", "noodle", "omelette", "quiche", "kebab", "fondue", "pierogi", "gnocchi",
	"falafel", "samosa", "poutine", "dimsum", "churro", "scone", "muffin", "biscuit", "cupcake", "toffee",
}

var skies = []string{
	"sunbeam", "stardust", "glimmer", "echo", "breeze", "meadow", "willow", "ember", "poppy", "pixel",
	"comet", "orbit", "nebula", "aurora", "zenith", "drizzle", "lantern", "puddle", "pebble", "canyon",
	"ridge", "cove", "harbor", "summit", "prairie", "tundra", "lagoon", "dune", "fjord", "atoll",
}

var adjectives = []string{
	"tiny", "happy", "sleepy", "fluffy", "sparkly", "cheery", "silly", "jolly", "cozy", "shiny",
	"golden", "silver", "crimson", "emerald", "purple", "bright", "gentle", "brave", "calm", "swift",
	"silent", "bouncy", "fuzzy", "plucky", "merry", "peppy", "dapper", "breezy", "mellow", "spry",
}

// Generate returns a random, memorable room code in the form
// adjective-word-word-word (e.g. "cozy-otter-waffle-comet"). One word is
// drawn from each list so two hosts minting at the same moment are very
// unlikely to collide.
func Generate() (string, error) {
	lists := [][]string{adjectives, creatures, dishes, skies}
	words := make([]string, len(lists))
	for i, list := range lists {
		idx, err := randomIndex(len(list))
		if err != nil {
			return "", fmt.Errorf("generate room code: %w", err)
		}
		words[i] = list[idx]
	}
	return fmt.Sprintf("%s-%s-%s-%s", words[0], words[1], words[2], words[3]), nil
}

// Valid reports whether a string looks like something we would accept as a
// room identifier: non-empty and free of whitespace. Relay-side room IDs
// are opaque, so this is deliberately loose.
func Valid(code string) bool {
	if code == "" {
		return false
	}
	for _, r := range code {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			return false
		}
	}
	return true
}

// randomIndex returns a cryptographically secure random index for a slice of given length.
func randomIndex(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}
