// Package ident generates opaque identifiers from an injectable randomness
// source so tests can pin them.
package ident

import (
	"io"
	"sync"

	"github.com/google/uuid"
)

// Generator produces prefixed UUIDv4 identifiers.
type Generator struct {
	mu     sync.Mutex
	r      io.Reader
	prefix string
}

// New returns a Generator reading from r. A nil r uses crypto/rand.
func New(prefix string, r io.Reader) *Generator {
	return &Generator{r: r, prefix: prefix}
}

// Next returns a fresh identifier.
func (g *Generator) Next() string {
	if g.r == nil {
		return g.prefix + uuid.NewString()
	}
	g.mu.Lock()
	u, err := uuid.NewRandomFromReader(g.r)
	g.mu.Unlock()
	if err != nil {
		u = uuid.New()
	}
	return g.prefix + u.String()
}
