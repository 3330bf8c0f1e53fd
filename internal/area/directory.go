// Package area resolves complaints to service areas and finds the
// nearest area with spare technician capacity.
package area

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"

	"fieldline/internal/cache"
	"fieldline/internal/domain"
	"fieldline/internal/repo"
)

// Resolution confidence levels, highest first.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// Resolution is the outcome of mapping a complaint to a service area.
// Area is nil when only the raw address could be used.
type Resolution struct {
	Area       *domain.Area
	Confidence string
	RawAddress string
}

// Nearest is one area candidate with its spare capacity and the
// distance from the resolved location, in km-equivalent units.
type Nearest struct {
	Area      domain.Area
	Available int
	Distance  float64
}

// Store is the subset of the storage layer the directory reads from.
type Store interface {
	GetArea(ctx context.Context, id string) (domain.Area, error)
	GetCustomer(ctx context.Context, id string) (domain.Customer, error)
	FindAreaByName(ctx context.Context, companyID, name string) (domain.Area, error)
	ListAreas(ctx context.Context, companyID string) ([]domain.Area, error)
	ListAreasWithCapacity(ctx context.Context, companyID string, capacity int) ([]repo.AreaAvailability, error)
}

// Directory caches name lookups without a TTL; the surrounding system
// calls Invalidate when an area record changes.
type Directory struct {
	Store    Store
	Capacity int

	names *cache.Cache[domain.Area]
}

func New(store Store, capacity int) *Directory {
	return &Directory{
		Store:    store,
		Capacity: capacity,
		names:    cache.New[domain.Area](0),
	}
}

// ResolveLocation maps a complaint to an area. Preference order: the
// complaint's own area reference, the customer's area reference, a
// fuzzy match of the district string against known area names, and
// finally the raw address with low confidence.
func (d *Directory) ResolveLocation(ctx context.Context, c domain.Complaint) (Resolution, error) {
	if c.AreaID != nil && *c.AreaID != "" {
		a, err := d.Store.GetArea(ctx, *c.AreaID)
		if err == nil {
			return Resolution{Area: &a, Confidence: ConfidenceHigh, RawAddress: c.Address}, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return Resolution{}, err
		}
	}

	if c.CustomerID != "" {
		cust, err := d.Store.GetCustomer(ctx, c.CustomerID)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return Resolution{}, err
		}
		if err == nil && cust.AreaID != nil && *cust.AreaID != "" {
			a, err := d.Store.GetArea(ctx, *cust.AreaID)
			if err == nil {
				return Resolution{Area: &a, Confidence: ConfidenceHigh, RawAddress: c.Address}, nil
			}
			if !errors.Is(err, repo.ErrNotFound) {
				return Resolution{}, err
			}
		}
	}

	if c.District != "" {
		a, ok, err := d.matchName(ctx, c.CompanyID, c.District)
		if err != nil {
			return Resolution{}, err
		}
		if ok {
			return Resolution{Area: &a, Confidence: ConfidenceMedium, RawAddress: c.Address}, nil
		}
	}

	return Resolution{Confidence: ConfidenceLow, RawAddress: c.Address}, nil
}

// matchName tries an exact name/code match first, then a substring
// match over all of the company's areas. Hits are cached under the
// normalized query so repeat lookups skip storage.
func (d *Directory) matchName(ctx context.Context, companyID, name string) (domain.Area, bool, error) {
	key := companyID + "/" + strings.ToLower(strings.TrimSpace(name))
	if a, ok := d.names.Get(key); ok {
		return a, true, nil
	}

	a, err := d.Store.FindAreaByName(ctx, companyID, name)
	if err == nil {
		d.names.Set(key, a)
		return a, true, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Area{}, false, err
	}

	areas, err := d.Store.ListAreas(ctx, companyID)
	if err != nil {
		return domain.Area{}, false, err
	}
	needle := strings.ToLower(strings.TrimSpace(name))
	for _, cand := range areas {
		if containsFold(cand.Name, needle) || containsFold(cand.District, needle) {
			d.names.Set(key, cand)
			return cand, true, nil
		}
	}
	return domain.Area{}, false, nil
}

// FindNearestAreaWithCapacity returns the candidate area closest to
// the resolved location that still has at least one technician under
// capacity, or nil when no area qualifies. When the resolved area
// itself has spare capacity it wins with distance zero.
func (d *Directory) FindNearestAreaWithCapacity(ctx context.Context, companyID string, resolved *domain.Area) (*Nearest, error) {
	candidates, err := d.Store.ListAreasWithCapacity(ctx, companyID, d.Capacity)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	if resolved != nil {
		for _, cand := range candidates {
			if cand.Area.ID == resolved.ID {
				return &Nearest{Area: cand.Area, Available: cand.AvailableTechnicians, Distance: 0}, nil
			}
		}
	}

	ranked := make([]Nearest, 0, len(candidates))
	for _, cand := range candidates {
		ranked = append(ranked, Nearest{
			Area:      cand.Area,
			Available: cand.AvailableTechnicians,
			Distance:  d.distance(resolved, cand.Area),
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Distance != ranked[j].Distance {
			return ranked[i].Distance < ranked[j].Distance
		}
		if ranked[i].Available != ranked[j].Available {
			return ranked[i].Available > ranked[j].Available
		}
		return ranked[i].Area.ID < ranked[j].Area.ID
	})
	best := ranked[0]
	return &best, nil
}

// Heuristic distances for areas without coordinates.
const (
	distSameName     = 0
	distSameDistrict = 5
	distSameCity     = 10
	distDefault      = 50
)

func (d *Directory) distance(from *domain.Area, to domain.Area) float64 {
	if from == nil {
		return distDefault
	}
	if from.HasCoordinates() && to.HasCoordinates() {
		return Haversine(*from.Latitude, *from.Longitude, *to.Latitude, *to.Longitude)
	}
	switch {
	case strings.EqualFold(from.Name, to.Name):
		return distSameName
	case from.District != "" && containsFold(to.District, strings.ToLower(from.District)):
		return distSameDistrict
	case from.City != "" && containsFold(to.City, strings.ToLower(from.City)):
		return distSameCity
	default:
		return distDefault
	}
}

const earthRadiusKm = 6371.0

// Haversine returns the great-circle distance in kilometers between
// two coordinate pairs.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLon := radians(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

// Invalidate drops one cached name lookup. Callers pass the same
// normalized key shape used internally: companyID + "/" + lowercase
// name. InvalidateAll is the safe choice after an area edit.
func (d *Directory) Invalidate(companyID, name string) {
	d.names.Invalidate(companyID + "/" + strings.ToLower(strings.TrimSpace(name)))
}

func (d *Directory) InvalidateAll() {
	d.names.InvalidateAll()
}

func containsFold(haystack, lowerNeedle string) bool {
	if lowerNeedle == "" {
		return false
	}
	return strings.Contains(strings.ToLower(haystack), lowerNeedle)
}
