package service

import (
	"github.com/noah-isme/sma-timetable-api/internal/models"
)

// Rejection reasons returned by the conflict detector.
const (
	ReasonNoConsecutiveSlot = "no consecutive slot available"
	ReasonCurrentOccupied   = "current slot occupied"
	ReasonNextOccupied      = "next slot occupied"
)

// Placement is a proposed lesson position. An empty RoomID means no room is requested.
type Placement struct {
	Day        int
	TimeSlotID string
	ClassID    string
	TeacherID  string
	RoomID     string
	MultiHour  bool
}

// CanPlaceMultiHour checks that the slot and its successor are both free for the class,
// teacher and room. Inputs are never mutated.
func CanPlaceMultiHour(day int, slotID, classID, teacherID, roomID string, existing []models.Lesson, slots []models.TimeSlot) models.PlacementDecision {
	next, ok := NextSlot(slots, slotID)
	if !ok {
		return reject(ReasonNoConsecutiveSlot)
	}
	if occupied(day, slotID, classID, teacherID, roomID, existing) {
		return reject(ReasonCurrentOccupied)
	}
	if occupied(day, next.ID, classID, teacherID, roomID, existing) {
		return reject(ReasonNextOccupied)
	}
	return models.PlacementDecision{Allowed: true}
}

// CanPlaceSingle applies the occupancy check to one slot.
func CanPlaceSingle(day int, slotID, classID, teacherID, roomID string, existing []models.Lesson) models.PlacementDecision {
	if occupied(day, slotID, classID, teacherID, roomID, existing) {
		return reject(ReasonCurrentOccupied)
	}
	return models.PlacementDecision{Allowed: true}
}

// Occupants lists the lessons at (day, slotID) sharing the class, the teacher or the room.
func Occupants(day int, slotID, classID, teacherID, roomID string, existing []models.Lesson) []models.Lesson {
	var matches []models.Lesson
	for _, lesson := range existing {
		if lesson.Day != day || lesson.TimeSlotID != slotID {
			continue
		}
		if sharesResource(lesson, classID, teacherID, roomID) {
			matches = append(matches, lesson)
		}
	}
	return matches
}

func occupied(day int, slotID, classID, teacherID, roomID string, existing []models.Lesson) bool {
	for _, lesson := range existing {
		if lesson.Day == day && lesson.TimeSlotID == slotID && sharesResource(lesson, classID, teacherID, roomID) {
			return true
		}
	}
	return false
}

func sharesResource(lesson models.Lesson, classID, teacherID, roomID string) bool {
	if lesson.ClassID == classID || lesson.TeacherID == teacherID {
		return true
	}
	return roomID != "" && lesson.Room() == roomID
}

func reject(reason string) models.PlacementDecision {
	return models.PlacementDecision{Allowed: false, Reason: reason}
}

// OccupantFilter narrows PriorSlotOccupant. Empty fields are ignored; set fields are ANDed.
type OccupantFilter struct {
	ClassID   string
	TeacherID string
	RoomID    string
}

func (f OccupantFilter) matches(lesson models.Lesson) bool {
	if f.ClassID != "" && lesson.ClassID != f.ClassID {
		return false
	}
	if f.TeacherID != "" && lesson.TeacherID != f.TeacherID {
		return false
	}
	if f.RoomID != "" && lesson.Room() != f.RoomID {
		return false
	}
	return true
}

// PriorSlotOccupant returns the multi-hour lesson starting in the teaching slot right
// before slotID, if any matches the filter. Continuation lessons never start a lab and
// are skipped.
func PriorSlotOccupant(day int, slotID string, lessons []models.Lesson, subjects []models.Subject, slots []models.TimeSlot, filter OccupantFilter) (models.Lesson, bool) {
	prev, ok := PreviousSlot(slots, slotID)
	if !ok {
		return models.Lesson{}, false
	}
	for _, lesson := range lessons {
		if lesson.Day != day || lesson.TimeSlotID != prev.ID || lesson.IsContinuation {
			continue
		}
		if filter.matches(lesson) && LessonIsMultiHour(lesson, subjects) {
			return lesson, true
		}
	}
	return models.Lesson{}, false
}

// PlacementChecker decides whether a placement is legal against a lesson snapshot.
type PlacementChecker interface {
	Check(p Placement, existing []models.Lesson, slots []models.TimeSlot) models.PlacementDecision
}

// ResourceConflictDetector enforces class, teacher and room exclusivity per slot. When
// Subjects is set it also refuses slots held by the tail of an earlier lab whose
// continuation row is missing.
type ResourceConflictDetector struct {
	Subjects []models.Subject
}

// Check implements PlacementChecker.
func (d ResourceConflictDetector) Check(p Placement, existing []models.Lesson, slots []models.TimeSlot) models.PlacementDecision {
	var decision models.PlacementDecision
	if p.MultiHour {
		decision = CanPlaceMultiHour(p.Day, p.TimeSlotID, p.ClassID, p.TeacherID, p.RoomID, existing, slots)
	} else {
		decision = CanPlaceSingle(p.Day, p.TimeSlotID, p.ClassID, p.TeacherID, p.RoomID, existing)
	}
	if !decision.Allowed || len(d.Subjects) == 0 {
		return decision
	}
	if d.heldByPriorLab(p, existing, slots) {
		return reject(ReasonCurrentOccupied)
	}
	return decision
}

func (d ResourceConflictDetector) heldByPriorLab(p Placement, existing []models.Lesson, slots []models.TimeSlot) bool {
	filters := []OccupantFilter{{ClassID: p.ClassID}, {TeacherID: p.TeacherID}}
	if p.RoomID != "" {
		filters = append(filters, OccupantFilter{RoomID: p.RoomID})
	}
	for _, filter := range filters {
		if _, ok := PriorSlotOccupant(p.Day, p.TimeSlotID, existing, d.Subjects, slots, filter); ok {
			return true
		}
	}
	return false
}
