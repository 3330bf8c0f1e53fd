// Package assign scores technician candidates and orchestrates
// race-free complaint assignment.
package assign

import (
	"sort"

	"fieldline/internal/domain"
)

// Candidate pairs a technician with their current workload snapshot.
type Candidate struct {
	Technician domain.Technician
	Workload   domain.WorkloadSnapshot
	Score      float64
}

// Caps carries the per-class daily assignment limits: regular field
// technicians get Daily, broader staff get StaffDaily.
type Caps struct {
	Daily      int
	StaffDaily int
}

func (c Caps) forTechnician(t domain.Technician) int {
	if t.Status == domain.TechnicianStaff && c.StaffDaily > 0 {
		return c.StaffDaily
	}
	return c.Daily
}

// AvailabilityScore rates a workload on a 0-100 scale. Lighter loads
// score higher; a fully idle technician gets a bonus.
func AvailabilityScore(w domain.WorkloadSnapshot, dailyCap int) float64 {
	score := 100.0
	if w.Capacity > 0 {
		score -= float64(w.ActiveCount) / float64(w.Capacity) * 50
	}
	if dailyCap > 0 {
		score -= float64(w.TodayCount) / float64(dailyCap) * 30
	}
	if w.ActiveCount == 0 {
		score += 20
	}
	if w.TodayCount < 5 {
		score += 10
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// SelectBest filters out technicians at capacity, scores the rest, and
// returns them best first. The ordering is a pure function of the
// scores and counts: score descending, then active count ascending,
// then today count ascending, then technician id for a stable final
// tiebreak.
func SelectBest(candidates []Candidate, caps Caps) []Candidate {
	eligible := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Workload.AtCapacity() {
			continue
		}
		c.Score = AvailabilityScore(c.Workload, caps.forTechnician(c.Technician))
		eligible = append(eligible, c)
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Workload.ActiveCount != b.Workload.ActiveCount {
			return a.Workload.ActiveCount < b.Workload.ActiveCount
		}
		if a.Workload.TodayCount != b.Workload.TodayCount {
			return a.Workload.TodayCount < b.Workload.TodayCount
		}
		return a.Technician.ID < b.Technician.ID
	})
	return eligible
}
