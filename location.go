package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// GeoCoordinate is a device-reported position. Immutable once captured for a
// submission attempt.
type GeoCoordinate struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	AccuracyM float64 `json:"accuracy_m,omitempty"`
}

func (g GeoCoordinate) DisplayLabel() string {
	return fmt.Sprintf("Lat %.5f, Lng %.5f", g.Lat, g.Lng)
}

// LocationSelection holds the dependent province/district/city choice for one
// form session. Invariant: district implies a province it belongs to, city
// implies a district it belongs to.
type LocationSelection struct {
	Province string `json:"province,omitempty"`
	District string `json:"district,omitempty"`
	City     string `json:"city,omitempty"`
}

func (s LocationSelection) DisplayLabel() string {
	parts := make([]string, 0, 3)
	if s.City != "" {
		parts = append(parts, s.City)
	}
	if s.District != "" {
		parts = append(parts, s.District)
	}
	if s.Province != "" {
		parts = append(parts, s.Province)
	}
	return strings.Join(parts, ", ")
}

// CascadingSelector drives a LocationSelection through the three ordered
// selection events. Setting a parent always clears its children, so the
// offered option sets are exactly the children of the current parent.
type CascadingSelector struct {
	selection LocationSelection
}

func NewCascadingSelector() *CascadingSelector {
	return &CascadingSelector{}
}

// SelectProvince sets the province and clears district and city.
func (s *CascadingSelector) SelectProvince(province string) {
	s.selection = LocationSelection{Province: canonicalGeoName(province)}
}

// SelectDistrict sets the district and clears the city. It is ignored while
// no province is selected. An unknown district is kept fail-soft: the city
// option set simply comes back empty.
func (s *CascadingSelector) SelectDistrict(district string) {
	if s.selection.Province == "" {
		return
	}
	s.selection.District = canonicalGeoName(district)
	s.selection.City = ""
}

// SelectCity sets the city. No further cascade.
func (s *CascadingSelector) SelectCity(city string) {
	if s.selection.District == "" {
		return
	}
	s.selection.City = canonicalGeoName(city)
}

func (s *CascadingSelector) Selection() LocationSelection {
	return s.selection
}

// DistrictOptions is the option set for the district selector: the districts
// of the selected province, empty when no province is selected.
func (s *CascadingSelector) DistrictOptions() []string {
	if s.selection.Province == "" {
		return []string{}
	}
	return districtsOf(s.selection.Province)
}

// CityOptions is the option set for the city selector.
func (s *CascadingSelector) CityOptions() []string {
	if s.selection.Province == "" || s.selection.District == "" {
		return []string{}
	}
	return citiesOf(s.selection.Province, s.selection.District)
}

// DistrictEnabled and CityEnabled are the derived presentation booleans; the
// selection itself never stores them.
func (s *CascadingSelector) DistrictEnabled() bool {
	return s.selection.Province != ""
}

func (s *CascadingSelector) CityEnabled() bool {
	return s.selection.District != ""
}

// Outcomes of a location acquisition attempt. Both sentinels mean the same
// thing to the caller: manual entry is required.
var (
	ErrLocationPermissionDenied = errors.New("location permission denied")
	ErrLocationUnsupported      = errors.New("location not supported on this platform")
)

// PositionProvider is the platform location capability.
type PositionProvider interface {
	CurrentPosition(ctx context.Context) (GeoCoordinate, error)
}

// LocationAcquirer wraps a PositionProvider with the acquire-once semantics
// of a form session: a best-effort attempt at mount plus an idempotent manual
// retry that yields the same closed set of outcomes. A granted coordinate is
// cached and reused for the rest of the session.
type LocationAcquirer struct {
	provider PositionProvider

	mu       sync.Mutex
	captured *GeoCoordinate
}

func NewLocationAcquirer(provider PositionProvider) *LocationAcquirer {
	return &LocationAcquirer{provider: provider}
}

// Acquire resolves the device position. It returns a coordinate, or
// ErrLocationPermissionDenied / ErrLocationUnsupported when the caller must
// fall back to manual entry. Safe to call repeatedly; a previously captured
// coordinate is returned as-is.
func (l *LocationAcquirer) Acquire(ctx context.Context) (GeoCoordinate, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.captured != nil {
		return *l.captured, nil
	}
	if l.provider == nil {
		return GeoCoordinate{}, ErrLocationUnsupported
	}

	coordinate, err := l.provider.CurrentPosition(ctx)
	if err != nil {
		if errors.Is(err, ErrLocationPermissionDenied) || errors.Is(err, ErrLocationUnsupported) {
			return GeoCoordinate{}, err
		}
		// Anything else from the platform degrades to the denied path.
		return GeoCoordinate{}, ErrLocationPermissionDenied
	}

	l.captured = &coordinate
	return coordinate, nil
}

// Retry is the explicit "enable location" affordance. It produces the same
// outcomes as Acquire.
func (l *LocationAcquirer) Retry(ctx context.Context) (GeoCoordinate, error) {
	return l.Acquire(ctx)
}
