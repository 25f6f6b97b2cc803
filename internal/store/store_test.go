package store

import (
	"context"
	"reflect"
	"testing"
	"time"

	"fptucal/internal/model"
)

func rec(id, subject string) model.ClassRecord {
	return model.ClassRecord{
		SubjectCode: subject,
		Date:        "2025-09-15",
		Slot:        1,
		Time:        model.TimeRange{Start: "07:30", End: "09:00"},
		Location:    "BE-301",
		Status:      model.StatusNotYet,
		ActivityID:  id,
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMergeIdempotent(t *testing.T) {
	x := []model.ClassRecord{rec("1", "AAA"), rec("2", "BBB"), rec("3", "CCC")}
	if got := Merge(x, x); !reflect.DeepEqual(got, x) {
		t.Fatalf("merge(X, X) != X:\n%+v", got)
	}
}

func TestMergeUpdatesInPlace(t *testing.T) {
	old := []model.ClassRecord{rec("1", "AAA"), rec("2", "BBB")}
	updated := rec("1", "AAA-new")
	updated.Location = "DE-227"

	got := Merge(old, []model.ClassRecord{updated})
	if len(got) != 2 {
		t.Fatalf("got %d records, want update not duplicate", len(got))
	}
	if got[0].SubjectCode != "AAA-new" || got[0].Location != "DE-227" {
		t.Errorf("record not overwritten at original position: %+v", got[0])
	}
	if got[1].ActivityID != "2" {
		t.Errorf("untouched record moved")
	}
}

func TestMergeAppendsAndRetains(t *testing.T) {
	old := []model.ClassRecord{rec("1", "AAA")}
	got := Merge(old, []model.ClassRecord{rec("2", "BBB")})
	if len(got) != 2 {
		t.Fatalf("got %d records", len(got))
	}
	if got[0].ActivityID != "1" || got[1].ActivityID != "2" {
		t.Errorf("merge must retain old records and append new ones: %+v", got)
	}
}

func TestReplaceSupersedes(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if _, err := s.Replace(ctx, []model.ClassRecord{rec("1", "AAA"), rec("2", "BBB")}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if _, err := s.Replace(ctx, []model.ClassRecord{rec("3", "CCC")}); err != nil {
		t.Fatalf("replace: %v", err)
	}

	classes, err := s.Classes(ctx)
	if err != nil {
		t.Fatalf("classes: %v", err)
	}
	if len(classes) != 1 || classes[0].ActivityID != "3" {
		t.Fatalf("replace must discard prior records: %+v", classes)
	}
}

func TestMergeSavePersists(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if _, err := s.Replace(ctx, []model.ClassRecord{rec("1", "AAA")}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := s.MergeSave(ctx, []model.ClassRecord{rec("2", "BBB")}); err != nil {
		t.Fatalf("merge save: %v", err)
	}

	classes, err := s.Classes(ctx)
	if err != nil {
		t.Fatalf("classes: %v", err)
	}
	if len(classes) != 2 {
		t.Fatalf("got %d records after merge save", len(classes))
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if _, err := s.Replace(ctx, []model.ClassRecord{rec("1", "AAA"), rec("2", "BBB")}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := s.Delete(ctx, "1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, "nope"); err != ErrNotFound {
		t.Fatalf("deleting unknown id: err = %v, want ErrNotFound", err)
	}

	classes, _ := s.Classes(ctx)
	if len(classes) != 1 || classes[0].ActivityID != "2" {
		t.Fatalf("delete removed wrong record: %+v", classes)
	}
}

func TestEditPreservesUntouchedFields(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	orig := rec("1", "AAA")
	orig.EdunextURL = "https://edunext.fpt.edu.vn/c/1"
	orig.MaterialsURL = "https://flm.fpt.edu.vn/m/1"
	orig.IsRelocated = true
	if _, err := s.Replace(ctx, []model.ClassRecord{orig}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	newLoc := "DE-227"
	got, err := s.Edit(ctx, "1", EditPatch{Location: &newLoc})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if got.Location != "DE-227" {
		t.Errorf("location not applied")
	}
	if got.EdunextURL != orig.EdunextURL || got.MaterialsURL != orig.MaterialsURL || !got.IsRelocated {
		t.Errorf("edit clobbered untouched fields: %+v", got)
	}
}

func TestEditPromotesOnlineNeverDemotes(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	online := rec("1", "AAA")
	online.IsOnline = true
	online.MeetURL = "https://meet.google.com/abc"
	if _, err := s.Replace(ctx, []model.ClassRecord{online, rec("2", "BBB")}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Clearing the meet link must not demote isOnline.
	empty := ""
	got, err := s.Edit(ctx, "1", EditPatch{MeetURL: &empty})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if !got.IsOnline {
		t.Errorf("edit demoted isOnline")
	}

	// Supplying a meet link promotes an offline class to online.
	link := "https://meet.google.com/xyz"
	got, err = s.Edit(ctx, "2", EditPatch{MeetURL: &link})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if !got.IsOnline {
		t.Errorf("supplying a meet link must promote isOnline")
	}
}

func TestAuthStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if st, err := s.AuthState(ctx); err != nil || st != nil {
		t.Fatalf("fresh store: st=%v err=%v", st, err)
	}

	at := time.Date(2025, 9, 10, 8, 0, 0, 0, time.UTC)
	if err := s.SetAuthState(ctx, true, at); err != nil {
		t.Fatalf("set: %v", err)
	}
	st, err := s.AuthState(ctx)
	if err != nil || st == nil || !st.IsLoggedIn || !st.Timestamp.Equal(at) {
		t.Fatalf("round trip: st=%+v err=%v", st, err)
	}

	if err := s.ClearAuthState(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if st, _ := s.AuthState(ctx); st != nil {
		t.Fatalf("state not cleared")
	}
}

func TestResetSession(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.SetAuthState(ctx, true, time.Now()); err != nil {
		t.Fatalf("set auth: %v", err)
	}
	if err := s.MarkFirstRunDone(ctx); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := s.ResetSession(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}

	if st, _ := s.AuthState(ctx); st != nil {
		t.Errorf("auth state survived reset")
	}
	if done, _ := s.FirstRunDone(ctx); done {
		t.Errorf("first-run marker survived reset")
	}
}
