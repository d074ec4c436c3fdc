package teacher

import "github.com/g4mless/mykelas-web/core/klasapi"

// Roster is one class's attendance for today.
type Roster struct {
	ClassID string
	Entries []klasapi.RosterEntry
}

type Summary struct {
	Present int // HADIR
	Izin    int
	Sakit   int
	Absent  int // no record yet
}

func (r *Roster) Summary() Summary {
	var sum Summary
	for _, e := range r.Entries {
		switch e.Status {
		case klasapi.StatusHadir:
			sum.Present++
		case klasapi.StatusIzin:
			sum.Izin++
		case klasapi.StatusSakit:
			sum.Sakit++
		default:
			sum.Absent++
		}
	}
	return sum
}

// AbsentIDs lists the students without a record today, in roster order.
func (r *Roster) AbsentIDs() []int {
	var ids []int
	for _, e := range r.Entries {
		if !e.HasRecord() {
			ids = append(ids, e.StudentID)
		}
	}
	return ids
}
