package domain

import "fmt"

// ValidPriority reports whether p is a known complaint priority.
func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// ValidStatus reports whether s is a known complaint status.
func ValidStatus(s string) bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusResolved, StatusClosed:
		return true
	}
	return false
}

// Validate checks the fields every stored complaint must carry.
func (c Complaint) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("complaint id is required")
	}
	if c.CompanyID == "" {
		return fmt.Errorf("complaint %s: company is required", c.ID)
	}
	if c.CustomerID == "" {
		return fmt.Errorf("complaint %s: customer is required", c.ID)
	}
	if c.Title == "" {
		return fmt.Errorf("complaint %s: title is required", c.ID)
	}
	if !ValidPriority(c.Priority) {
		return fmt.Errorf("complaint %s: invalid priority %q", c.ID, c.Priority)
	}
	if !ValidStatus(c.Status) {
		return fmt.Errorf("complaint %s: invalid status %q", c.ID, c.Status)
	}
	return nil
}

func (t Technician) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("technician id is required")
	}
	if t.CompanyID == "" {
		return fmt.Errorf("technician %s: company is required", t.ID)
	}
	if t.AreaID == "" {
		return fmt.Errorf("technician %s: area is required", t.ID)
	}
	if t.Name == "" {
		return fmt.Errorf("technician %s: name is required", t.ID)
	}
	return nil
}

func (a Area) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("area id is required")
	}
	if a.CompanyID == "" {
		return fmt.Errorf("area %s: company is required", a.ID)
	}
	if a.Name == "" {
		return fmt.Errorf("area %s: name is required", a.ID)
	}
	if (a.Latitude == nil) != (a.Longitude == nil) {
		return fmt.Errorf("area %s: latitude and longitude must be set together", a.ID)
	}
	return nil
}

func (p Penalty) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("penalty id is required")
	}
	if p.ComplaintID == "" {
		return fmt.Errorf("penalty %s: complaint is required", p.ID)
	}
	if p.TechnicianID == "" {
		return fmt.Errorf("penalty %s: technician is required", p.ID)
	}
	if p.Amount <= 0 {
		return fmt.Errorf("penalty %s: amount must be positive", p.ID)
	}
	switch p.Status {
	case PenaltyPending, PenaltyApplied, PenaltyWaived:
	default:
		return fmt.Errorf("penalty %s: invalid status %q", p.ID, p.Status)
	}
	return nil
}
