package meetings

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFilter_Match(t *testing.T) {
	m := validMeeting()
	m.Department = "Sales"
	m.Division = "GTM"
	m.IsOneOnOne = false

	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty", Filter{}, true},
		{"inside range", Filter{From: day, To: day.AddDate(0, 0, 1)}, true},
		{"to is exclusive", Filter{To: m.StartTime}, false},
		{"before from", Filter{From: day.AddDate(0, 0, 1)}, false},
		{"department hit", Filter{Departments: []string{"Eng", "Sales"}}, true},
		{"department miss", Filter{Departments: []string{"Eng"}}, false},
		{"division miss", Filter{Divisions: []string{"R&D"}}, false},
		{"user hit", Filter{Users: []string{"ana@example.com"}}, true},
		{"one on one only", Filter{OneOnOne: true}, false},
		{"min duration", Filter{MinDuration: 31}, false},
		{"max duration", Filter{MaxDuration: 30}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Match(m))
		})
	}
}

func TestDedupe(t *testing.T) {
	a1 := &Meeting{EventID: "a", UserEmail: "u", Summary: "first"}
	b := &Meeting{EventID: "b", UserEmail: "u"}
	a2 := &Meeting{EventID: "a", UserEmail: "u", Summary: "second"}
	other := &Meeting{EventID: "a", UserEmail: "v"}

	got := Dedupe([]*Meeting{a1, b, a2, other})
	assert.Equal(t, []*Meeting{b, a2, other}, got)

	unique := []*Meeting{a1, b}
	assert.Equal(t, unique, Dedupe(unique))
}

func TestUpsertResult_Add(t *testing.T) {
	var r UpsertResult
	r.Add(UpsertResult{Inserted: 2, Updated: 1})
	r.Add(UpsertResult{Inserted: 1, Unchanged: 4})
	assert.Equal(t, UpsertResult{Inserted: 3, Updated: 1, Unchanged: 4}, r)
}
