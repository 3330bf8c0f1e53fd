package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"fieldline/internal/app"
	"fieldline/internal/domain"
)

const testJWTSecret = "test-secret"

type testServer struct {
	URL    string
	App    *app.App
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	a, err := app.New(app.Options{Workspace: workspace, CompanyID: "co-1"})
	if err != nil {
		t.Fatalf("build app: %v", err)
	}
	handler, err := New(Config{
		App: a,
		Auth: AuthConfig{
			JWTSecret:              testJWTSecret,
			AllowLegacyActorHeader: true,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		App:    a,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			a.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func seedDirectory(t *testing.T, a *app.App) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Format(time.RFC3339)
	areaID := "area-1"
	if err := a.Repo.CreateArea(ctx, domain.Area{
		ID: areaID, CompanyID: "co-1", Name: "Central", District: "Midtown", CreatedAt: now,
	}); err != nil {
		t.Fatalf("seed area: %v", err)
	}
	if err := a.Repo.CreateCustomer(ctx, domain.Customer{
		ID: "cust-1", CompanyID: "co-1", Name: "Acme Water", AreaID: &areaID, CreatedAt: now,
	}); err != nil {
		t.Fatalf("seed customer: %v", err)
	}
	if err := a.Repo.CreateTechnician(ctx, domain.Technician{
		ID: "tech-1", CompanyID: "co-1", AreaID: areaID, Name: "Pat", Active: true, CreatedAt: now,
	}); err != nil {
		t.Fatalf("seed technician: %v", err)
	}
}

func signToken(t *testing.T, subject, companyID string, roles ...string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":        subject,
		"company_id": companyID,
		"exp":        time.Now().Add(time.Hour).Unix(),
	}
	if len(roles) > 0 {
		claims["roles"] = roles
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope %q: %v", string(data), err)
	}
	return envelope.Error.Code
}

func TestHealthNeedsNoAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}

func TestMetricsEndpointNeedsNoAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d: %s", res.StatusCode, string(data))
	}
	if !strings.Contains(string(data), "fieldline_") {
		t.Fatalf("metrics body carries no fieldline series: %s", string(data))
	}
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/complaints", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "unauthorized" {
		t.Fatalf("error code %q, want unauthorized", code)
	}
}

func TestBadTokenRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/complaints", nil, map[string]string{
		"Authorization": "Bearer not-a-jwt",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "invalid_credentials" {
		t.Fatalf("error code %q, want invalid_credentials", code)
	}
}

func TestComplaintLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	seedDirectory(t, srv.App)

	auth := map[string]string{"Authorization": "Bearer " + signToken(t, "dispatcher-1", "co-1")}
	client := srv.Client()

	createRes, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/complaints", map[string]any{
		"customer_id": "cust-1",
		"title":       "No hot water",
		"priority":    "high",
	}, auth)
	if createRes.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", createRes.StatusCode, string(data))
	}
	var created domain.Complaint
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal complaint: %v", err)
	}
	if created.CompanyID != "co-1" || created.Status != domain.StatusOpen {
		t.Fatalf("created = %+v", created)
	}

	assignRes, assignBody := doJSON(t, client, http.MethodPost, srv.URL+"/v1/complaints/"+created.ID+"/assign", nil, auth)
	if assignRes.StatusCode != http.StatusOK {
		t.Fatalf("assign status %d: %s", assignRes.StatusCode, string(assignBody))
	}
	var outcome struct {
		Complaint  domain.Complaint   `json:"complaint"`
		Technician *domain.Technician `json:"technician"`
	}
	if err := json.Unmarshal(assignBody, &outcome); err != nil {
		t.Fatalf("unmarshal outcome: %v", err)
	}
	if outcome.Technician == nil || outcome.Technician.ID != "tech-1" {
		t.Fatalf("technician = %+v, want tech-1", outcome.Technician)
	}
	if outcome.Complaint.Status != domain.StatusInProgress || outcome.Complaint.SLADeadline == nil {
		t.Fatalf("assigned complaint = %+v", outcome.Complaint)
	}

	// A second assignment attempt hits the conflict path.
	conflictRes, conflictBody := doJSON(t, client, http.MethodPost, srv.URL+"/v1/complaints/"+created.ID+"/assign", nil, auth)
	if conflictRes.StatusCode != http.StatusConflict {
		t.Fatalf("re-assign status %d, want 409: %s", conflictRes.StatusCode, string(conflictBody))
	}
	if code := errorCode(t, conflictBody); code != "already_assigned" {
		t.Fatalf("error code %q, want already_assigned", code)
	}

	closeRes, closeBody := doJSON(t, client, http.MethodPost, srv.URL+"/v1/complaints/"+created.ID+"/close", map[string]any{}, auth)
	if closeRes.StatusCode != http.StatusOK {
		t.Fatalf("close status %d: %s", closeRes.StatusCode, string(closeBody))
	}
	var closed domain.Complaint
	if err := json.Unmarshal(closeBody, &closed); err != nil {
		t.Fatalf("unmarshal closed: %v", err)
	}
	if closed.Status != domain.StatusResolved {
		t.Fatalf("closed status = %s, want resolved", closed.Status)
	}
	if closed.SLAStatus != domain.SLAMet {
		t.Fatalf("sla status = %s, want met", closed.SLAStatus)
	}

	// Closing twice conflicts.
	againRes, againBody := doJSON(t, client, http.MethodPost, srv.URL+"/v1/complaints/"+created.ID+"/close", map[string]any{}, auth)
	if againRes.StatusCode != http.StatusConflict {
		t.Fatalf("double close status %d, want 409: %s", againRes.StatusCode, string(againBody))
	}
}

func TestLegacyActorHeader(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	seedDirectory(t, srv.App)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/complaints", map[string]any{
		"customer_id": "cust-1",
		"title":       "Leaking pipe",
	}, map[string]string{"X-Actor-Id": "op-1"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	var created domain.Complaint
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal complaint: %v", err)
	}
	if created.Priority != domain.PriorityMedium {
		t.Fatalf("priority = %s, want default medium", created.Priority)
	}
}

func TestUnknownComplaintNotFound(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	auth := map[string]string{"Authorization": "Bearer " + signToken(t, "dispatcher-1", "co-1")}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/complaints/nope", nil, auth)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d, want 404: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "not_found" {
		t.Fatalf("error code %q, want not_found", code)
	}
}

func TestPrincipalAuthorizer(t *testing.T) {
	complaint := domain.Complaint{ID: "cmp-1", CompanyID: "co-1"}
	authz := PrincipalAuthorizer{}

	cases := []struct {
		name    string
		p       *Principal
		wantErr bool
	}{
		{"no principal", nil, true},
		{"same company", &Principal{ActorID: "a", CompanyID: "co-1", Source: "jwt"}, false},
		{"other company", &Principal{ActorID: "a", CompanyID: "co-2", Source: "jwt"}, true},
		{"admin role crosses companies", &Principal{ActorID: "a", CompanyID: "co-2", Roles: []string{"admin"}, Source: "jwt"}, false},
		{"legacy header is operator", &Principal{ActorID: "a", Source: "legacy_header"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			if tc.p != nil {
				ctx = withPrincipal(ctx, *tc.p)
			}
			err := authz.Authorize(ctx, "a", complaint)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr = %v", err, tc.wantErr)
			}
		})
	}
}
