package markers

import (
	"sync"

	"github.com/dhconnelly/rtreego"
	"github.com/pkg/errors"
)

const (
	treeTolerance = 0.0001
	treeMin       = 25
	treeMax       = 50
)

type item struct {
	marker Marker
	rect   *rtreego.Rect
}

func (it *item) Bounds() *rtreego.Rect {
	return it.rect
}

func newItem(m Marker) *item {
	p := rtreego.Point{m.Lat, m.Lng}
	return &item{marker: m, rect: p.ToRect(treeTolerance)}
}

// Repository holds the canonical, store-backed marker set. It is only
// mutated after the corresponding remote call succeeded; pending drafts
// never enter it. Iteration order is insertion order, which after a full
// re-fetch is the store's order.
type Repository struct {
	mu      sync.RWMutex
	byID    map[string]*item
	order   []string
	tree    *rtreego.Rtree
	changes []func()
}

func NewRepository() *Repository {
	return &Repository{
		byID: map[string]*item{},
		tree: rtreego.NewTree(2, treeMin, treeMax),
	}
}

// OnChange registers a callback invoked after every mutation. Not safe to
// call concurrently with mutations.
func (r *Repository) OnChange(fn func()) {
	r.changes = append(r.changes, fn)
}

func (r *Repository) notify() {
	for _, fn := range r.changes {
		fn()
	}
}

// ReplaceAll unconditionally replaces the canonical set after a full
// re-fetch. Last fetch wins.
func (r *Repository) ReplaceAll(ms []Marker) {
	r.mu.Lock()
	r.byID = make(map[string]*item, len(ms))
	r.order = r.order[:0]
	r.tree = rtreego.NewTree(2, treeMin, treeMax)
	for _, m := range ms {
		if m.ID == "" {
			continue
		}
		if _, ok := r.byID[m.ID]; ok {
			continue
		}
		it := newItem(m)
		r.byID[m.ID] = it
		r.order = append(r.order, m.ID)
		r.tree.Insert(it)
	}
	r.mu.Unlock()
	r.notify()
}

// Add merges a store-confirmed marker into the set.
func (r *Repository) Add(m Marker) error {
	if m.ID == "" {
		return errors.New("cannot add marker without id")
	}
	r.mu.Lock()
	if old, ok := r.byID[m.ID]; ok {
		r.tree.Delete(old)
	} else {
		r.order = append(r.order, m.ID)
	}
	it := newItem(m)
	r.byID[m.ID] = it
	r.tree.Insert(it)
	r.mu.Unlock()
	r.notify()
	return nil
}

// Replace swaps in the updated marker returned by a successful store
// update, keeping its position in the iteration order.
func (r *Repository) Replace(m Marker) error {
	if m.ID == "" {
		return errors.New("cannot replace marker without id")
	}
	r.mu.Lock()
	old, ok := r.byID[m.ID]
	if !ok {
		r.mu.Unlock()
		return errors.Errorf("marker %s not in canonical set", m.ID)
	}
	r.tree.Delete(old)
	it := newItem(m)
	r.byID[m.ID] = it
	r.tree.Insert(it)
	r.mu.Unlock()
	r.notify()
	return nil
}

// Remove drops a marker after a successful store delete. Removing an
// unknown id is a no-op.
func (r *Repository) Remove(id string) {
	r.mu.Lock()
	it, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	r.tree.Delete(it)
	delete(r.byID, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()
	r.notify()
}

func (r *Repository) Get(id string) (Marker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	it, ok := r.byID[id]
	if !ok {
		return Marker{}, false
	}
	return it.marker, true
}

// All returns the canonical set in iteration order.
func (r *Repository) All() []Marker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Marker, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id].marker)
	}
	return out
}

func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Within returns the markers inside the given viewport box, for the map
// surface. Order is unspecified.
func (r *Repository) Within(minLat, minLng, maxLat, maxLng float64) ([]Marker, error) {
	bounds, err := rtreego.NewRect(
		rtreego.Point{minLat, minLng},
		[]float64{maxLat - minLat, maxLng - minLng},
	)
	if err != nil {
		return nil, errors.Wrap(err, "invalid viewport box")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	results := r.tree.SearchIntersect(bounds)
	out := make([]Marker, 0, len(results))
	for _, res := range results {
		out = append(out, res.(*item).marker)
	}
	return out, nil
}
