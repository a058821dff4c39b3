package renderer

import (
	"context"
	"sync"

	"maprender/tile"
)

// placeLabels decides which labels the tile draws and records the ones
// reaching into neighbours that are not drawn yet. Reading the neighbours
// and recording the result happen under one lock, so two neighbours
// placing at the same time see each other in a fixed order.
func (r *Renderer) placeLabels(ctx context.Context, job Job, candidates []*Element) (mustDraw, placed []*Element, err error) {
	d := r.deps
	d.mu.Lock()
	defer d.mu.Unlock()

	current := job.Tile
	rendered := make(map[tile.Tile]bool)
	seen := make(map[*Element]bool)
	own := candidates

	for _, n := range current.Neighbours() {
		other := job.OtherTile(n)
		if !d.isPlaced(other) && (r.cache == nil || !r.cache.ContainsRenderedTile(n, other)) {
			continue
		}
		rendered[n] = true
		for _, e := range d.overlap[n][current] {
			if !seen[e] {
				seen[e] = true
				mustDraw = append(mustDraw, e)
			}
		}
		boundary := n.Boundary()
		kept := make([]*Element, 0, len(own))
		for _, e := range own {
			if !e.Intersects(boundary) {
				kept = append(kept, e)
			}
		}
		own = kept
	}

	for _, e := range collisionFreeOrdered(own) {
		if !clashesWithAny(e, mustDraw) {
			placed = append(placed, e)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	final := make([]*Element, 0, len(mustDraw)+len(placed))
	final = append(final, mustDraw...)
	final = append(final, placed...)
	d.update(current, rendered, final)
	d.placed[current] = job.Key()
	return mustDraw, placed, nil
}

// MemoryLabelStore keeps the labels of each tile in memory.
type MemoryLabelStore struct {
	mu    sync.RWMutex
	items map[tile.Tile][]*Element
}

func NewMemoryLabelStore() *MemoryLabelStore {
	return &MemoryLabelStore{items: make(map[tile.Tile][]*Element)}
}

func (s *MemoryLabelStore) StoreMapItems(t tile.Tile, items []*Element) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[t] = items
}

// MapItems returns the labels stored for t.
func (s *MemoryLabelStore) MapItems(t tile.Tile) ([]*Element, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items, ok := s.items[t]
	return items, ok
}

// Evict forgets the labels of t.
func (s *MemoryLabelStore) Evict(t tile.Tile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, t)
}
