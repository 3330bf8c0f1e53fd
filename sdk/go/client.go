package fieldlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Fieldline HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	ActorID     string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Complaint mirrors the API complaint model (partial).
type Complaint struct {
	ID          string   `json:"id"`
	CompanyID   string   `json:"company_id"`
	CustomerID  string   `json:"customer_id"`
	Title       string   `json:"title"`
	District    string   `json:"district,omitempty"`
	Priority    string   `json:"priority"`
	Status      string   `json:"status"`
	AssigneeID  *string  `json:"assignee_id,omitempty"`
	SLADeadline *string  `json:"sla_deadline,omitempty"`
	SLAStatus   string   `json:"sla_status,omitempty"`
	Penalty     *float64 `json:"penalty_amount,omitempty"`
}

// Technician mirrors the API technician model (partial).
type Technician struct {
	ID     string `json:"id"`
	AreaID string `json:"area_id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Workload is one technician's current load.
type Workload struct {
	TechnicianID string  `json:"technician_id"`
	ActiveCount  int     `json:"active_count"`
	TodayCount   int     `json:"today_count"`
	Capacity     int     `json:"capacity"`
	Utilization  float64 `json:"utilization"`
}

// Candidate is one ranked assignment candidate.
type Candidate struct {
	Technician Technician `json:"Technician"`
	Workload   Workload   `json:"Workload"`
	Score      float64    `json:"Score"`
}

// Outcome is the result of an assignment attempt.
type Outcome struct {
	Complaint                Complaint   `json:"complaint"`
	Technician               *Technician `json:"technician,omitempty"`
	Distance                 float64     `json:"distance_km,omitempty"`
	Score                    float64     `json:"score,omitempty"`
	RequiresManualAssignment bool        `json:"requires_manual_assignment,omitempty"`
	Reason                   string      `json:"reason,omitempty"`
}

// Penalty mirrors the API penalty model (partial).
type Penalty struct {
	ID                  string  `json:"id"`
	ComplaintID         string  `json:"complaint_id"`
	TechnicianID        string  `json:"technician_id"`
	Amount              float64 `json:"amount"`
	Status              string  `json:"status"`
	BreachDurationHours float64 `json:"breach_duration_hours"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateComplaint files a new complaint.
func (c *Client) CreateComplaint(ctx context.Context, customerID, title, district, priority string) (Complaint, error) {
	body := map[string]any{
		"customer_id": customerID,
		"title":       title,
		"district":    district,
		"priority":    priority,
	}
	var resp Complaint
	err := c.do(ctx, http.MethodPost, "v1/complaints", body, &resp)
	return resp, err
}

// GetComplaint fetches one complaint.
func (c *Client) GetComplaint(ctx context.Context, id string) (Complaint, error) {
	var resp Complaint
	err := c.do(ctx, http.MethodGet, "v1/complaints/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Assign auto-assigns a complaint to the best available technician.
func (c *Client) Assign(ctx context.Context, complaintID string) (Outcome, error) {
	var resp Outcome
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v1/complaints/%s/assign", url.PathEscape(complaintID)), nil, &resp)
	return resp, err
}

// Reassign moves a complaint to a specific technician.
func (c *Client) Reassign(ctx context.Context, complaintID, technicianID string) (Outcome, error) {
	body := map[string]any{"technician_id": technicianID}
	var resp Outcome
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v1/complaints/%s/reassign", url.PathEscape(complaintID)), body, &resp)
	return resp, err
}

// AvailableTechnicians lists an area's ranked assignment candidates.
func (c *Client) AvailableTechnicians(ctx context.Context, areaID string) ([]Candidate, error) {
	var resp []Candidate
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v1/areas/%s/technicians/available", url.PathEscape(areaID)), nil, &resp)
	return resp, err
}

// TechnicianWorkload returns one technician's workload snapshot.
func (c *Client) TechnicianWorkload(ctx context.Context, technicianID string) (Workload, error) {
	var resp Workload
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v1/technicians/%s/workload", url.PathEscape(technicianID)), nil, &resp)
	return resp, err
}

// ListPenalties returns penalties matching an optional status filter.
func (c *Client) ListPenalties(ctx context.Context, status string) ([]Penalty, error) {
	endpoint := "v1/penalties"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp []Penalty
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// WaivePenalty waives a pending penalty with a reason.
func (c *Client) WaivePenalty(ctx context.Context, penaltyID, reason string) (Penalty, error) {
	body := map[string]any{"reason": reason}
	var resp Penalty
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v1/penalties/%s/waive", url.PathEscape(penaltyID)), body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
