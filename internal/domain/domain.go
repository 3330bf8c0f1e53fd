package domain

// Complaint priorities, ordered from widest to tightest SLA window.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Complaint statuses.
const (
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusResolved   = "resolved"
	StatusClosed     = "closed"
)

// SLA statuses. Empty string means no SLA timer has been started.
const (
	SLAPending        = "pending"
	SLAMet            = "met"
	SLABreached       = "breached"
	SLAPendingPenalty = "pending_penalty"
	SLAPenaltyApplied = "penalty_applied"
	SLAPenaltyWaived  = "penalty_waived"
)

// Penalty statuses.
const (
	PenaltyPending = "pending"
	PenaltyApplied = "applied"
	PenaltyWaived  = "waived"
)

type Complaint struct {
	ID            string   `json:"id"`
	CompanyID     string   `json:"company_id"`
	CustomerID    string   `json:"customer_id"`
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	Address       string   `json:"address,omitempty"`
	District      string   `json:"district,omitempty"`
	AreaID        *string  `json:"area_id,omitempty"`
	Priority      string   `json:"priority" enum:"low,medium,high,urgent"`
	Status        string   `json:"status" enum:"open,in_progress,resolved,closed"`
	AssigneeID    *string  `json:"assignee_id,omitempty"`
	AssignedAt    *string  `json:"assigned_at,omitempty" format:"date-time"`
	SLADeadline   *string  `json:"sla_deadline,omitempty" format:"date-time"`
	SLAStatus     string   `json:"sla_status,omitempty" enum:"pending,met,breached,pending_penalty,penalty_applied,penalty_waived"`
	PenaltyAmount *float64 `json:"penalty_amount,omitempty"`
	CreatedAt     string   `json:"created_at" format:"date-time"`
	UpdatedAt     string   `json:"updated_at" format:"date-time"`
	ResolvedAt    *string  `json:"resolved_at,omitempty" format:"date-time"`
}

// Open reports whether the complaint still counts against a
// technician's active workload.
func (c Complaint) Open() bool {
	return c.Status == StatusOpen || c.Status == StatusInProgress
}

// TechnicianStaff marks broader staff who take overflow work under the
// larger daily cap.
const TechnicianStaff = "staff"

type Technician struct {
	ID        string `json:"id"`
	CompanyID string `json:"company_id"`
	AreaID    string `json:"area_id"`
	Name      string `json:"name"`
	Phone     string `json:"phone,omitempty"`
	Active    bool   `json:"active"`
	Status    string `json:"status,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Area struct {
	ID        string   `json:"id"`
	CompanyID string   `json:"company_id"`
	Name      string   `json:"name"`
	Code      string   `json:"code,omitempty"`
	City      string   `json:"city,omitempty"`
	District  string   `json:"district,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	ManagerID *string  `json:"manager_id,omitempty"`
	CreatedAt string   `json:"created_at" format:"date-time"`
}

// HasCoordinates reports whether the area carries a usable location.
func (a Area) HasCoordinates() bool {
	return a.Latitude != nil && a.Longitude != nil
}

type Customer struct {
	ID        string  `json:"id"`
	CompanyID string  `json:"company_id"`
	Name      string  `json:"name"`
	Address   string  `json:"address,omitempty"`
	AreaID    *string `json:"area_id,omitempty"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

type Penalty struct {
	ID                  string  `json:"id"`
	ComplaintID         string  `json:"complaint_id"`
	TechnicianID        string  `json:"technician_id"`
	CompanyID           string  `json:"company_id"`
	Amount              float64 `json:"amount"`
	Status              string  `json:"status" enum:"pending,applied,waived"`
	AssignedAt          string  `json:"assigned_at" format:"date-time"`
	SLADeadline         string  `json:"sla_deadline" format:"date-time"`
	BreachDurationHours float64 `json:"breach_duration_hours"`
	CreatedAt           string  `json:"created_at" format:"date-time"`
	AppliedAt           *string `json:"applied_at,omitempty" format:"date-time"`
	WaivedBy            *string `json:"waived_by,omitempty"`
	WaiveReason         *string `json:"waive_reason,omitempty"`
	WaivedAt            *string `json:"waived_at,omitempty" format:"date-time"`
}

// WorkloadSnapshot is a derived, cacheable view of one technician's
// current load. It is never persisted; the counts are always
// reconstructible from complaint records.
type WorkloadSnapshot struct {
	TechnicianID string  `json:"technician_id"`
	ActiveCount  int     `json:"active_count"`
	TodayCount   int     `json:"today_count"`
	Capacity     int     `json:"capacity"`
	Utilization  float64 `json:"utilization"`
}

// AtCapacity reports whether the technician cannot take more work.
func (w WorkloadSnapshot) AtCapacity() bool {
	return w.Capacity > 0 && w.ActiveCount >= w.Capacity
}

// ComplianceReport aggregates one company's SLA outcomes for the daily
// reporting sweep.
type ComplianceReport struct {
	CompanyID      string  `json:"company_id"`
	Assigned       int     `json:"assigned"`
	Met            int     `json:"met"`
	Breached       int     `json:"breached"`
	PendingPenalty int     `json:"pending_penalty"`
	PenaltyApplied int     `json:"penalty_applied"`
	PenaltyTotal   float64 `json:"penalty_total"`
	GeneratedAt    string  `json:"generated_at" format:"date-time"`
}
