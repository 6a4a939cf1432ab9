package session

import (
	"context"
	"errors"
	"fmt"
	"hash"
	"sort"
)

var errNoOpenFrame = errors.New("session: OnSuccess called without an open transaction frame")

// contextBackground isolates the one remaining context.Background() call needed to satisfy
// catalog.Database's context-taking methods from call sites that don't otherwise carry a context,
// pending a wider plumb-through of the request context into View.OnSuccess.
func contextBackground() context.Context {
	return context.Background()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)
	return keys
}

func sortedStringKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)
	return keys
}

func writeAny(h hash.Hash, v any) {
	fmt.Fprintf(h, "%v", v)
}
