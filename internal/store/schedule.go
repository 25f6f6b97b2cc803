package store

import (
	"context"
	"errors"

	"fptucal/internal/model"
)

// ErrNotFound is returned for operations on an activity id that is not in
// the stored schedule.
var ErrNotFound = errors.New("class not found")

// Merge folds incoming records into existing ones by activity id: a matching
// record is overwritten in place (position preserved), a new one is
// appended. Records present only in the old set are retained; merge never
// deletes. Pure function; both inputs are left untouched.
func Merge(existing, incoming []model.ClassRecord) []model.ClassRecord {
	out := make([]model.ClassRecord, len(existing))
	copy(out, existing)

	index := make(map[string]int, len(out))
	for i, c := range out {
		index[c.ActivityID] = i
	}

	for _, c := range incoming {
		if i, ok := index[c.ActivityID]; ok {
			out[i] = c
			continue
		}
		index[c.ActivityID] = len(out)
		out = append(out, c)
	}
	return out
}

// EditPatch carries the fields a user may change on a stored record. Nil
// fields are left as they are.
type EditPatch struct {
	SubjectCode *string                 `json:"subjectCode,omitempty"`
	Date        *string                 `json:"date,omitempty"`
	Slot        *int                    `json:"slot,omitempty"`
	Time        *model.TimeRange        `json:"time,omitempty"`
	Location    *string                 `json:"location,omitempty"`
	MeetURL     *string                 `json:"meetUrl,omitempty"`
	Status      *model.AttendanceStatus `json:"status,omitempty"`
}

// applyEdit merges a patch into a record. Fields not present in the patch
// are preserved, in particular the auxiliary links and the relocation flag.
// Supplying a meeting link promotes isOnline to true; an edit never demotes
// isOnline implicitly.
func applyEdit(rec model.ClassRecord, patch EditPatch) model.ClassRecord {
	if patch.SubjectCode != nil {
		rec.SubjectCode = *patch.SubjectCode
	}
	if patch.Date != nil {
		rec.Date = *patch.Date
	}
	if patch.Slot != nil {
		rec.Slot = *patch.Slot
	}
	if patch.Time != nil {
		rec.Time = *patch.Time
	}
	if patch.Location != nil {
		rec.Location = *patch.Location
	}
	if patch.MeetURL != nil {
		rec.MeetURL = *patch.MeetURL
		if rec.MeetURL != "" {
			rec.IsOnline = true
		}
	}
	if patch.Status != nil {
		rec.Status = *patch.Status
	}
	return rec
}

// Classes returns the stored schedule (empty when nothing was saved yet).
func (s *Store) Classes(ctx context.Context) ([]model.ClassRecord, error) {
	var classes []model.ClassRecord
	if _, err := s.getJSON(ctx, keyClasses, &classes); err != nil {
		return nil, err
	}
	return classes, nil
}

// Replace stores incoming wholesale, superseding the prior collection.
func (s *Store) Replace(ctx context.Context, incoming []model.ClassRecord) ([]model.ClassRecord, error) {
	if incoming == nil {
		incoming = []model.ClassRecord{}
	}
	if err := s.putJSON(ctx, keyClasses, incoming); err != nil {
		return nil, err
	}
	return incoming, nil
}

// MergeSave merges incoming into the stored collection and persists the
// result.
func (s *Store) MergeSave(ctx context.Context, incoming []model.ClassRecord) ([]model.ClassRecord, error) {
	existing, err := s.Classes(ctx)
	if err != nil {
		return nil, err
	}
	merged := Merge(existing, incoming)
	if err := s.putJSON(ctx, keyClasses, merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// Delete removes the record with the given activity id.
func (s *Store) Delete(ctx context.Context, activityID string) error {
	classes, err := s.Classes(ctx)
	if err != nil {
		return err
	}
	out := classes[:0]
	found := false
	for _, c := range classes {
		if c.ActivityID == activityID {
			found = true
			continue
		}
		out = append(out, c)
	}
	if !found {
		return ErrNotFound
	}
	return s.putJSON(ctx, keyClasses, out)
}

// Edit applies a patch to the record with the given activity id and persists
// the collection.
func (s *Store) Edit(ctx context.Context, activityID string, patch EditPatch) (model.ClassRecord, error) {
	classes, err := s.Classes(ctx)
	if err != nil {
		return model.ClassRecord{}, err
	}
	for i, c := range classes {
		if c.ActivityID != activityID {
			continue
		}
		classes[i] = applyEdit(c, patch)
		if err := s.putJSON(ctx, keyClasses, classes); err != nil {
			return model.ClassRecord{}, err
		}
		return classes[i], nil
	}
	return model.ClassRecord{}, ErrNotFound
}
