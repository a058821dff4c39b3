package renderer

import (
	"sync"

	"github.com/pkg/errors"

	"maprender/tile"
)

// ErrNotNeighbour is returned for tile pairs that do not touch.
var ErrNotNeighbour = errors.New("tiles are not neighbours")

// Dependencies records, for every rendered tile, the labels that reach
// over into each of its neighbours. A tile rendered later must complete
// these labels regardless of its own collisions, since part of them is
// already on screen. It is safe for concurrent use.
type Dependencies struct {
	mu      sync.Mutex
	overlap map[tile.Tile]map[tile.Tile][]*Element
	// placed holds the tiles whose labels are fixed, with the job that
	// placed them. A tile is placed before its tile cache learns about it.
	placed map[tile.Tile]JobKey
}

func NewDependencies() *Dependencies {
	return &Dependencies{
		overlap: make(map[tile.Tile]map[tile.Tile][]*Element),
		placed:  make(map[tile.Tile]JobKey),
	}
}

// OverlappingElements returns the elements drawn on from that reach into to.
func (d *Dependencies) OverlappingElements(from, to tile.Tile) []*Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	elements := d.overlap[from][to]
	out := make([]*Element, len(elements))
	copy(out, elements)
	return out
}

// AddOverlappingElement records that e, drawn on from, reaches into to.
func (d *Dependencies) AddOverlappingElement(from, to tile.Tile, e *Element) error {
	if !from.IsNeighbour(to) {
		return errors.Wrapf(ErrNotNeighbour, "%s and %s", from, to)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.add(from, to, e)
	return nil
}

func (d *Dependencies) add(from, to tile.Tile, e *Element) {
	targets, ok := d.overlap[from]
	if !ok {
		targets = make(map[tile.Tile][]*Element)
		d.overlap[from] = targets
	}
	for _, existing := range targets[to] {
		if existing == e {
			return
		}
	}
	targets[to] = append(targets[to], e)
}

// RemoveTile drops every pair t takes part in, as origin or as target.
// Tile caches call it when t is evicted and will be drawn again.
func (d *Dependencies) RemoveTile(t tile.Tile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.overlap, t)
	delete(d.placed, t)
	for _, n := range t.Neighbours() {
		d.removePair(n, t)
	}
}

// RemovePair drops the elements recorded for from reaching into to.
func (d *Dependencies) RemovePair(from, to tile.Tile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removePair(from, to)
}

func (d *Dependencies) removePair(from, to tile.Tile) {
	targets, ok := d.overlap[from]
	if !ok {
		return
	}
	delete(targets, to)
	if len(targets) == 0 {
		delete(d.overlap, from)
	}
}

// Update replaces the entries of current with the labels it has drawn, as
// one step. Neighbours that are not rendered lose their own entries since
// they will compute them again.
func (d *Dependencies) Update(current tile.Tile, rendered map[tile.Tile]bool, labels []*Element) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.update(current, rendered, labels)
}

func (d *Dependencies) update(current tile.Tile, rendered map[tile.Tile]bool, labels []*Element) {
	for _, n := range current.Neighbours() {
		if !rendered[n] {
			delete(d.overlap, n)
		}
		d.removePair(current, n)
		boundary := n.Boundary()
		for _, e := range labels {
			if e.Intersects(boundary) {
				d.add(current, n, e)
			}
		}
	}
}

// isPlaced reports whether job's tile has fixed its labels.
func (d *Dependencies) isPlaced(job Job) bool {
	key, ok := d.placed[job.Tile]
	return ok && key == job.Key()
}

// Reset forgets all tiles.
func (d *Dependencies) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.overlap = make(map[tile.Tile]map[tile.Tile][]*Element)
	d.placed = make(map[tile.Tile]JobKey)
}

// Len is the number of recorded tile pairs.
func (d *Dependencies) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, targets := range d.overlap {
		n += len(targets)
	}
	return n
}
