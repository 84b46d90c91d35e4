package service

import (
	"sort"

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

// FindSlot looks up a slot by id in the provided snapshot.
func FindSlot(slots []models.TimeSlot, slotID string) (models.TimeSlot, bool) {
	for _, slot := range slots {
		if slot.ID == slotID {
			return slot, true
		}
	}
	return models.TimeSlot{}, false
}

// NextSlot returns the teaching slot immediately after slotID. A break neighbour or the
// end of the day yields no match; breaks are never skipped over.
func NextSlot(slots []models.TimeSlot, slotID string) (models.TimeSlot, bool) {
	return adjacentSlot(slots, slotID, 1)
}

// PreviousSlot returns the teaching slot immediately before slotID.
func PreviousSlot(slots []models.TimeSlot, slotID string) (models.TimeSlot, bool) {
	return adjacentSlot(slots, slotID, -1)
}

func adjacentSlot(slots []models.TimeSlot, slotID string, step int) (models.TimeSlot, bool) {
	current, ok := FindSlot(slots, slotID)
	if !ok {
		return models.TimeSlot{}, false
	}
	for _, candidate := range slots {
		if candidate.Order == current.Order+step && !candidate.IsBreak {
			return candidate, true
		}
	}
	return models.TimeSlot{}, false
}

// SortSlots returns a copy of slots ordered by Order; ties keep their input order.
func SortSlots(slots []models.TimeSlot) []models.TimeSlot {
	sorted := make([]models.TimeSlot, len(slots))
	copy(sorted, slots)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Order < sorted[j].Order
	})
	return sorted
}

// TeachingSlots returns the non-break slots in order.
func TeachingSlots(slots []models.TimeSlot) []models.TimeSlot {
	sorted := SortSlots(slots)
	teaching := sorted[:0]
	for _, slot := range sorted {
		if !slot.IsBreak {
			teaching = append(teaching, slot)
		}
	}
	return teaching
}
