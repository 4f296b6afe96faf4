package cells

import (
	"fmt"
	"sort"
	"sync"

	"github.com/banshee-data/touchring/internal/geometry"
)

// OverrideSet holds cells forced active by non-pointer input. Each named
// source (a keyboard, a websocket client, the HTTP API) owns its own subset;
// the effective set is their union.
type OverrideSet struct {
	mu      sync.Mutex
	sources map[string]map[int]struct{}
}

// NewOverrideSet returns an empty override set.
func NewOverrideSet() *OverrideSet {
	return &OverrideSet{sources: make(map[string]map[int]struct{})}
}

func checkCell(cell int) error {
	if cell < 0 || cell >= geometry.CellCount {
		return fmt.Errorf("%w: %d", ErrCellOutOfRange, cell)
	}
	return nil
}

// Replace atomically replaces the cells owned by source. An empty list
// removes the source. Nothing changes if any cell is out of range.
func (o *OverrideSet) Replace(source string, cells []int) error {
	set := make(map[int]struct{}, len(cells))
	for _, c := range cells {
		if err := checkCell(c); err != nil {
			return err
		}
		set[c] = struct{}{}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if len(set) == 0 {
		delete(o.sources, source)
		return nil
	}
	o.sources[source] = set
	return nil
}

// Toggle sets or clears a single cell for source.
func (o *OverrideSet) Toggle(source string, cell int, on bool) error {
	if err := checkCell(cell); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	set := o.sources[source]
	if on {
		if set == nil {
			set = make(map[int]struct{})
			o.sources[source] = set
		}
		set[cell] = struct{}{}
		return nil
	}
	delete(set, cell)
	if len(set) == 0 {
		delete(o.sources, source)
	}
	return nil
}

// Clear drops everything owned by source.
func (o *OverrideSet) Clear(source string) {
	o.mu.Lock()
	delete(o.sources, source)
	o.mu.Unlock()
}

// Sources returns the names of sources currently holding cells.
func (o *OverrideSet) Sources() []string {
	o.mu.Lock()
	names := make([]string, 0, len(o.sources))
	for name := range o.sources {
		names = append(names, name)
	}
	o.mu.Unlock()
	sort.Strings(names)
	return names
}

// apply sets every overridden cell in snap.
func (o *OverrideSet) apply(snap *Snapshot) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, set := range o.sources {
		for c := range set {
			snap[c] = true
		}
	}
}
