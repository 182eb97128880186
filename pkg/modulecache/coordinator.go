/*
Copyright 2024 The Nodebridge Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package modulecache

import (
	"sync"

	"github.com/nuclio/logger"
)

// Coordinator tracks, per cache identifier, whether the runtime-side compiled
// module is known to exist. The hints are an optimization only - the runtime
// remains the source of truth and may evict entries, so every identifier-only
// send must still handle a miss. A respawned runtime starts with an empty
// cache, so all hints are dropped when the generation moves.
type Coordinator struct {
	logger logger.Logger

	mu         sync.Mutex
	generation uint64
	hints      map[string]bool
}

// NewCoordinator returns a new cache coordinator
func NewCoordinator(parentLogger logger.Logger) *Coordinator {
	return &Coordinator{
		logger: parentLogger.GetChild("modulecache"),
		hints:  map[string]bool{},
	}
}

// MarkPresent records that the identifier was confirmed compiled by the
// runtime of the given generation. Stale generations are ignored.
func (c *Coordinator) MarkPresent(cacheID string, generation uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.observeGeneration(generation)
	if generation < c.generation {
		return
	}

	c.hints[cacheID] = true
}

// IsPresent returns the client-side belief about the identifier under the
// given generation
func (c *Coordinator) IsPresent(cacheID string, generation uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.observeGeneration(generation)
	if generation < c.generation {
		return false
	}

	return c.hints[cacheID]
}

// ShouldProbe decides whether an invocation with this cache identifier should
// open with an identifier-only request. Lazy sources always probe, since the
// probe exists to avoid materializing the body; eager sources probe only when
// the hint says the runtime already has the module.
func (c *Coordinator) ShouldProbe(cacheID string, generation uint64, bodyMaterialized bool) bool {
	if cacheID == "" {
		return false
	}
	if !bodyMaterialized {
		return true
	}

	return c.IsPresent(cacheID, generation)
}

// caller must hold the lock
func (c *Coordinator) observeGeneration(generation uint64) {
	if generation <= c.generation {
		return
	}

	if len(c.hints) != 0 {
		c.logger.DebugWith("Generation changed, dropping cache hints",
			"oldGeneration", c.generation,
			"newGeneration", generation,
			"hints", len(c.hints))
		c.hints = map[string]bool{}
	}

	c.generation = generation
}
