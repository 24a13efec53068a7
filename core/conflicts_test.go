package core

import (
	"testing"
	"time"

	"github.com/signalsfoundry/saarathi/model"
)

var base = time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC)

func at(hh, mm int) time.Time {
	return base.Add(time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute)
}

func occ(res, train string, prio model.PriorityClass, from, to time.Time) Occupation {
	return Occupation{Resource: res, Kind: ResourceTrack, Start: from, End: to, TrainID: train, Priority: prio}
}

func TestDetectConflictsOverlap(t *testing.T) {
	conflicts := DetectConflicts([]Occupation{
		occ("T10_CROSS", "12951", model.PriorityExpress, at(7, 0), at(7, 3)),
		occ("T10_CROSS", "FREIGHT-01", model.PriorityFreight, at(7, 2), at(7, 5)),
	})
	if len(conflicts) != 1 {
		t.Fatalf("conflicts = %d, want 1", len(conflicts))
	}
	c := conflicts[0]
	if c.Resource != "T10_CROSS" {
		t.Fatalf("resource = %s, want T10_CROSS", c.Resource)
	}
	if !c.OverlapStart.Equal(at(7, 2)) || !c.OverlapEnd.Equal(at(7, 3)) {
		t.Fatalf("overlap = [%v, %v), want [07:02, 07:03)", c.OverlapStart, c.OverlapEnd)
	}
	if c.Yielding != "FREIGHT-01" {
		t.Fatalf("yielding = %s, want FREIGHT-01", c.Yielding)
	}
}

func TestDetectConflictsTouchingIntervals(t *testing.T) {
	conflicts := DetectConflicts([]Occupation{
		occ("P2", "A", model.PriorityLocal, at(9, 0), at(9, 10)),
		occ("P2", "B", model.PriorityLocal, at(9, 10), at(9, 20)),
	})
	if len(conflicts) != 0 {
		t.Fatalf("conflicts = %v, want none for touching intervals", conflicts)
	}
}

func TestDetectConflictsNonAdjacent(t *testing.T) {
	conflicts := DetectConflicts([]Occupation{
		occ("P3", "LONG", model.PriorityLocal, at(8, 0), at(8, 30)),
		occ("P3", "SHORT1", model.PriorityLocal, at(8, 5), at(8, 10)),
		occ("P3", "SHORT2", model.PriorityLocal, at(8, 20), at(8, 25)),
	})
	if len(conflicts) != 2 {
		t.Fatalf("conflicts = %d, want 2", len(conflicts))
	}
	for _, c := range conflicts {
		if c.First.TrainID != "LONG" {
			t.Fatalf("conflict first = %s, want LONG", c.First.TrainID)
		}
	}
	if conflicts[1].Second.TrainID != "SHORT2" {
		t.Fatalf("second conflict = %s, want SHORT2", conflicts[1].Second.TrainID)
	}
}

func TestDetectConflictsEqualStartUsesPriority(t *testing.T) {
	tests := []struct {
		name string
		a, b Occupation
		want string
	}{
		{
			name: "freight yields to express",
			a:    occ("T4", "EXP", model.PriorityExpress, at(7, 0), at(7, 3)),
			b:    occ("T4", "FRT", model.PriorityFreight, at(7, 0), at(7, 3)),
			want: "FRT",
		},
		{
			name: "local yields to high speed regardless of id",
			a:    occ("T4", "99999", model.PriorityHighSpeed, at(7, 0), at(7, 3)),
			b:    occ("T4", "00001", model.PriorityLocal, at(7, 0), at(7, 3)),
			want: "00001",
		},
		{
			name: "greater id yields on equal class",
			a:    occ("T4", "12002", model.PriorityLocal, at(7, 0), at(7, 3)),
			b:    occ("T4", "04408", model.PriorityLocal, at(7, 0), at(7, 3)),
			want: "12002",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conflicts := DetectConflicts([]Occupation{tt.a, tt.b})
			if len(conflicts) != 1 {
				t.Fatalf("conflicts = %d, want 1", len(conflicts))
			}
			if got := conflicts[0].Yielding; got != tt.want {
				t.Fatalf("yielding = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDetectConflictsIgnoresSameTrainAndOtherResources(t *testing.T) {
	conflicts := DetectConflicts([]Occupation{
		occ("T1A", "12002", model.PriorityHighSpeed, at(7, 0), at(7, 3)),
		occ("T1A", "12002", model.PriorityHighSpeed, at(7, 1), at(7, 4)),
		occ("T1B", "12951", model.PriorityExpress, at(7, 0), at(7, 3)),
	})
	if len(conflicts) != 0 {
		t.Fatalf("conflicts = %v, want none", conflicts)
	}
}
