package service

import (
	"github.com/noah-isme/sma-timetable-api/internal/models"
)

// IsMultiHour reports whether the subject occupies two consecutive slots.
func IsMultiHour(subject models.Subject) bool {
	return subject.IsLab && subject.LabDurationSlots == 2
}

// LessonIsMultiHour resolves the lesson's subject and delegates to IsMultiHour. An
// unresolved subject is treated as single-slot.
func LessonIsMultiHour(lesson models.Lesson, subjects []models.Subject) bool {
	for _, subject := range subjects {
		if subject.ID == lesson.SubjectID {
			return IsMultiHour(subject)
		}
	}
	return false
}

// LessonGroup returns the lesson together with its partner, parent first. A missing half
// leaves the group with the lesson alone.
func LessonGroup(lesson models.Lesson, lessons []models.Lesson, subjects []models.Subject) []models.Lesson {
	if !LessonIsMultiHour(lesson, subjects) {
		return []models.Lesson{lesson}
	}
	return NewLessonIndex(lessons).groupOf(lesson)
}

// LessonLink describes where a lesson sits in its group. Partner is nil for single lessons.
type LessonLink struct {
	Role    models.LessonRole
	Partner *models.Lesson
}

// LessonIndex is a lookup table over a lesson snapshot keyed by id and by parent id.
type LessonIndex struct {
	byID          map[string]models.Lesson
	continuations map[string]models.Lesson
}

// NewLessonIndex indexes the provided lessons. The first continuation seen for a parent wins.
func NewLessonIndex(lessons []models.Lesson) *LessonIndex {
	idx := &LessonIndex{
		byID:          make(map[string]models.Lesson, len(lessons)),
		continuations: make(map[string]models.Lesson),
	}
	for _, lesson := range lessons {
		idx.byID[lesson.ID] = lesson
		if lesson.IsContinuation && lesson.ParentLessonID != nil {
			if _, exists := idx.continuations[*lesson.ParentLessonID]; !exists {
				idx.continuations[*lesson.ParentLessonID] = lesson
			}
		}
	}
	return idx
}

// Lookup returns the lesson with the given id.
func (idx *LessonIndex) Lookup(id string) (models.Lesson, bool) {
	lesson, ok := idx.byID[id]
	return lesson, ok
}

// Resolve tags the lesson as single, head or tail based on the indexed snapshot.
func (idx *LessonIndex) Resolve(lesson models.Lesson) LessonLink {
	if lesson.IsContinuation {
		if parentID := lesson.Parent(); parentID != "" {
			if parent, ok := idx.Lookup(parentID); ok {
				return LessonLink{Role: models.LessonRoleTail, Partner: &parent}
			}
		}
		return LessonLink{Role: models.LessonRoleSingle}
	}
	if continuation, ok := idx.continuations[lesson.ID]; ok {
		return LessonLink{Role: models.LessonRoleHead, Partner: &continuation}
	}
	return LessonLink{Role: models.LessonRoleSingle}
}

// Group returns the resolved group of the lesson with the given id.
func (idx *LessonIndex) Group(id string, subjects []models.Subject) []models.Lesson {
	lesson, ok := idx.Lookup(id)
	if !ok {
		return nil
	}
	if !LessonIsMultiHour(lesson, subjects) {
		return []models.Lesson{lesson}
	}
	return idx.groupOf(lesson)
}

func (idx *LessonIndex) groupOf(lesson models.Lesson) []models.Lesson {
	link := idx.Resolve(lesson)
	switch link.Role {
	case models.LessonRoleHead:
		return []models.Lesson{lesson, *link.Partner}
	case models.LessonRoleTail:
		return []models.Lesson{*link.Partner, lesson}
	}
	return []models.Lesson{lesson}
}
