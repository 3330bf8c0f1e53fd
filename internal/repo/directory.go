package repo

import (
	"context"
	"database/sql"
	"strings"

	"fieldline/internal/domain"
)

const areaColumns = `id,company_id,name,code,city,district,latitude,longitude,manager_id,created_at`

func scanArea(row rowScanner) (domain.Area, error) {
	var a domain.Area
	var code, city, district, managerID sql.NullString
	var lat, lon sql.NullFloat64
	err := row.Scan(&a.ID, &a.CompanyID, &a.Name, &code, &city, &district, &lat, &lon, &managerID, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.Code = code.String
	a.City = city.String
	a.District = district.String
	if lat.Valid {
		a.Latitude = &lat.Float64
	}
	if lon.Valid {
		a.Longitude = &lon.Float64
	}
	if managerID.Valid {
		a.ManagerID = &managerID.String
	}
	return a, nil
}

func (r Repo) CreateArea(ctx context.Context, a domain.Area) error {
	if err := a.Validate(); err != nil {
		return err
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO areas(`+areaColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.CompanyID, a.Name, nullable(a.Code), nullable(a.City), nullable(a.District),
		nullableFloatPtr(a.Latitude), nullableFloatPtr(a.Longitude), nullableStringPtr(a.ManagerID), a.CreatedAt)
	return err
}

func (r Repo) GetArea(ctx context.Context, id string) (domain.Area, error) {
	return scanArea(r.DB.QueryRowContext(ctx, `SELECT `+areaColumns+` FROM areas WHERE id=?`, id))
}

func (r Repo) ListAreas(ctx context.Context, companyID string) ([]domain.Area, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+areaColumns+` FROM areas WHERE company_id=? ORDER BY name`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Area
	for rows.Next() {
		a, err := scanArea(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// FindAreaByName does an exact case-insensitive name or code match.
func (r Repo) FindAreaByName(ctx context.Context, companyID, name string) (domain.Area, error) {
	return scanArea(r.DB.QueryRowContext(ctx,
		`SELECT `+areaColumns+` FROM areas WHERE company_id=? AND (LOWER(name)=LOWER(?) OR LOWER(code)=LOWER(?)) LIMIT 1`,
		companyID, name, name))
}

func (r Repo) UpdateArea(ctx context.Context, a domain.Area) error {
	if err := a.Validate(); err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx,
		`UPDATE areas SET name=?, code=?, city=?, district=?, latitude=?, longitude=?, manager_id=? WHERE id=?`,
		a.Name, nullable(a.Code), nullable(a.City), nullable(a.District),
		nullableFloatPtr(a.Latitude), nullableFloatPtr(a.Longitude), nullableStringPtr(a.ManagerID), a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AreaAvailability pairs an area with its count of active technicians
// still under the given capacity.
type AreaAvailability struct {
	Area                 domain.Area
	AvailableTechnicians int
}

// ListAreasWithCapacity returns areas in a company that have at least
// one active technician whose active complaint count is below capacity.
func (r Repo) ListAreasWithCapacity(ctx context.Context, companyID string, capacity int) ([]AreaAvailability, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT a.id,a.company_id,a.name,a.code,a.city,a.district,a.latitude,a.longitude,a.manager_id,a.created_at,COUNT(t.id)
FROM areas a
JOIN technicians t ON t.area_id=a.id AND t.active=1
WHERE a.company_id=?
  AND (SELECT COUNT(*) FROM complaints c WHERE c.assignee_id=t.id AND c.status IN (?,?)) < ?
GROUP BY a.id
ORDER BY a.name`,
		companyID, domain.StatusOpen, domain.StatusInProgress, capacity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []AreaAvailability
	for rows.Next() {
		var av AreaAvailability
		var code, city, district, managerID sql.NullString
		var lat, lon sql.NullFloat64
		a := &av.Area
		if err := rows.Scan(&a.ID, &a.CompanyID, &a.Name, &code, &city, &district, &lat, &lon, &managerID, &a.CreatedAt, &av.AvailableTechnicians); err != nil {
			return nil, err
		}
		a.Code = code.String
		a.City = city.String
		a.District = district.String
		if lat.Valid {
			a.Latitude = &lat.Float64
		}
		if lon.Valid {
			a.Longitude = &lon.Float64
		}
		if managerID.Valid {
			a.ManagerID = &managerID.String
		}
		res = append(res, av)
	}
	return res, rows.Err()
}

func (r Repo) CreateCustomer(ctx context.Context, c domain.Customer) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO customers(id,company_id,name,address,area_id,created_at) VALUES (?,?,?,?,?,?)`,
		c.ID, c.CompanyID, c.Name, nullable(c.Address), nullableStringPtr(c.AreaID), c.CreatedAt)
	return err
}

func (r Repo) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	var c domain.Customer
	var address, areaID sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,company_id,name,address,area_id,created_at FROM customers WHERE id=?`, id).
		Scan(&c.ID, &c.CompanyID, &c.Name, &address, &areaID, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.Address = address.String
	if areaID.Valid {
		c.AreaID = &areaID.String
	}
	return c, nil
}

func (r Repo) CreateTechnician(ctx context.Context, t domain.Technician) error {
	if err := t.Validate(); err != nil {
		return err
	}
	active := 0
	if t.Active {
		active = 1
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO technicians(id,company_id,area_id,name,phone,active,status,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		t.ID, t.CompanyID, t.AreaID, t.Name, nullable(t.Phone), active, nullable(t.Status), t.CreatedAt)
	return err
}

func (r Repo) GetTechnician(ctx context.Context, id string) (domain.Technician, error) {
	var t domain.Technician
	var phone, status sql.NullString
	var active int
	err := r.DB.QueryRowContext(ctx, `SELECT id,company_id,area_id,name,phone,active,status,created_at FROM technicians WHERE id=?`, id).
		Scan(&t.ID, &t.CompanyID, &t.AreaID, &t.Name, &phone, &active, &status, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Phone = phone.String
	t.Status = status.String
	t.Active = active == 1
	return t, nil
}

type TechnicianFilters struct {
	CompanyID  string
	AreaID     string
	ActiveOnly bool
}

func (r Repo) ListTechnicians(ctx context.Context, f TechnicianFilters) ([]domain.Technician, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.CompanyID != "" {
		clauses = append(clauses, "company_id=?")
		args = append(args, f.CompanyID)
	}
	if f.AreaID != "" {
		clauses = append(clauses, "area_id=?")
		args = append(args, f.AreaID)
	}
	if f.ActiveOnly {
		clauses = append(clauses, "active=1")
	}
	query := `SELECT id,company_id,area_id,name,phone,active,status,created_at FROM technicians WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY name, id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Technician
	for rows.Next() {
		var t domain.Technician
		var phone, status sql.NullString
		var active int
		if err := rows.Scan(&t.ID, &t.CompanyID, &t.AreaID, &t.Name, &phone, &active, &status, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Phone = phone.String
		t.Status = status.String
		t.Active = active == 1
		res = append(res, t)
	}
	return res, rows.Err()
}
