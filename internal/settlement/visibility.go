package settlement

import (
	"sort"
	"sync"

	"github.com/clicker-market/bff/internal/models"
)

// Visibility is the set of listings hidden from Browse after a successful
// dispatch. Entries are cleared by Unhide or by a fresh authoritative fetch.
type Visibility struct {
	mu     sync.RWMutex
	hidden map[int64]struct{}
}

func NewVisibility() *Visibility {
	return &Visibility{hidden: make(map[int64]struct{})}
}

func (v *Visibility) Hide(listingID int64) {
	v.mu.Lock()
	v.hidden[listingID] = struct{}{}
	v.mu.Unlock()
}

func (v *Visibility) Unhide(listingID int64) {
	v.mu.Lock()
	delete(v.hidden, listingID)
	v.mu.Unlock()
}

func (v *Visibility) IsHidden(listingID int64) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.hidden[listingID]
	return ok
}

// Supersede drops every hidden id the fresh fetch no longer returns: the
// backend already excludes those listings, so the override is redundant.
func (v *Visibility) Supersede(fresh []models.Listing) {
	present := make(map[int64]struct{}, len(fresh))
	for _, l := range fresh {
		present[l.ID] = struct{}{}
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	for id := range v.hidden {
		if _, ok := present[id]; !ok {
			delete(v.hidden, id)
		}
	}
}

// Filter returns listings minus the hidden ones, preserving order.
func (v *Visibility) Filter(listings []models.Listing) []models.Listing {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([]models.Listing, 0, len(listings))
	for _, l := range listings {
		if _, hidden := v.hidden[l.ID]; !hidden {
			out = append(out, l)
		}
	}
	return out
}

func (v *Visibility) IDs() []int64 {
	v.mu.RLock()
	ids := make([]int64, 0, len(v.hidden))
	for id := range v.hidden {
		ids = append(ids, id)
	}
	v.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
