// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/zeebo/blake3"
)

// sessionIDs derives session identifiers from a keyed BLAKE3 PRF over
// a counter. The key is random per server, so identifiers are not
// guessable from one another, and the counter never repeats, so an
// identifier is never reissued while the server runs.
type sessionIDs struct {
	key [32]byte

	mu      sync.Mutex
	counter uint64
	issued  map[int64]struct{}
}

func newSessionIDs() (*sessionIDs, error) {
	g := &sessionIDs{issued: make(map[int64]struct{})}
	if _, err := rand.Read(g.key[:]); err != nil {
		return nil, fmt.Errorf("generating session key: %w", err)
	}
	return g, nil
}

// next returns a fresh positive identifier.
func (g *sessionIDs) next() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for {
		g.counter++
		hasher, err := blake3.NewKeyed(g.key[:])
		if err != nil {
			return 0, fmt.Errorf("creating session hasher: %w", err)
		}
		var block [8]byte
		binary.BigEndian.PutUint64(block[:], g.counter)
		hasher.Write(block[:])
		var sum [8]byte
		hasher.Digest().Read(sum[:])

		id := int64(binary.BigEndian.Uint64(sum[:]) >> 1)
		if id == 0 {
			continue
		}
		if _, taken := g.issued[id]; taken {
			continue
		}
		g.issued[id] = struct{}{}
		return id, nil
	}
}
