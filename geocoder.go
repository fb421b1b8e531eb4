package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// GeocodeResult is a human-readable place for a coordinate.
type GeocodeResult struct {
	Address  string `json:"address,omitempty"`
	City     string `json:"city,omitempty"`
	District string `json:"district,omitempty"`
	Province string `json:"province,omitempty"`
}

// Geocoder resolves a coordinate to a place description. A nil result with a
// nil error means "nothing found".
type Geocoder interface {
	Geocode(ctx context.Context, lat, lng float64) (*GeocodeResult, error)
}

// NominatimGeocoder reverse-geocodes through OSM Nominatim.
// Requires a User-Agent and allows at most one request per second.
type NominatimGeocoder struct {
	UserAgent string
	Client    *http.Client
	mu        sync.Mutex
	lastCall  time.Time
}

func (g *NominatimGeocoder) Geocode(ctx context.Context, lat, lng float64) (*GeocodeResult, error) {
	g.mu.Lock()
	elapsed := time.Since(g.lastCall)
	if elapsed < time.Second {
		time.Sleep(time.Second - elapsed)
	}
	g.lastCall = time.Now()
	g.mu.Unlock()

	u := fmt.Sprintf("https://nominatim.openstreetmap.org/reverse?format=jsonv2&lat=%f&lon=%f&addressdetails=1", lat, lng)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", g.UserAgent)

	resp, err := g.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nominatim error: %d", resp.StatusCode)
	}

	var data struct {
		Address struct {
			Road        string `json:"road"`
			HouseNumber string `json:"house_number"`
			City        string `json:"city"`
			Town        string `json:"town"`
			Village     string `json:"village"`
			County      string `json:"county"`
			State       string `json:"state"`
		} `json:"address"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, err
	}

	city := data.Address.City
	if city == "" {
		city = data.Address.Town
	}
	if city == "" {
		city = data.Address.Village
	}

	addr := data.Address.Road
	if data.Address.HouseNumber != "" {
		addr = fmt.Sprintf("%s %s", addr, data.Address.HouseNumber)
	}

	if addr == "" && city == "" {
		return nil, nil
	}

	return &GeocodeResult{
		Address:  addr,
		City:     city,
		District: data.Address.County,
		Province: data.Address.State,
	}, nil
}

// cityAnchor places a catalog city on the map for offline nearest-city
// resolution.
type cityAnchor struct {
	City string
	Lat  float64
	Lng  float64
}

var cityAnchors = []cityAnchor{
	{"Biratnagar", 26.4525, 87.2718},
	{"Itahari", 26.6646, 87.2718},
	{"Dharan", 26.8065, 87.2846},
	{"Birtamod", 26.6447, 87.9912},
	{"Damak", 26.6587, 87.7029},
	{"Janakpur", 26.7288, 85.9263},
	{"Birgunj", 27.0104, 84.8770},
	{"Kathmandu", 27.7172, 85.3240},
	{"Lalitpur", 27.6588, 85.3247},
	{"Bhaktapur", 27.6710, 85.4298},
	{"Bharatpur", 27.6768, 84.4359},
	{"Pokhara", 28.2096, 83.9856},
	{"Butwal", 27.6866, 83.4323},
	{"Nepalgunj", 28.0500, 81.6167},
	{"Ghorahi", 28.0340, 82.4889},
	{"Birendranagar", 28.6020, 81.6340},
	{"Dhangadhi", 28.6833, 80.6000},
	{"Bhimdatta", 28.9551, 80.1800},
}

const catalogGeocodeMaxDistanceKM = 30.0

// CatalogGeocoder resolves a coordinate to the nearest catalog city, without
// any network call. It only answers within a fixed radius of a known city.
type CatalogGeocoder struct{}

func (g *CatalogGeocoder) Geocode(ctx context.Context, lat, lng float64) (*GeocodeResult, error) {
	_ = ctx

	bestDistance := math.MaxFloat64
	var best *cityAnchor
	for i := range cityAnchors {
		distance := haversineKM(lat, lng, cityAnchors[i].Lat, cityAnchors[i].Lng)
		if distance < bestDistance {
			bestDistance = distance
			best = &cityAnchors[i]
		}
	}
	if best == nil || bestDistance > catalogGeocodeMaxDistanceKM {
		return nil, nil
	}

	result := &GeocodeResult{City: best.City}
	if province, district, ok := catalogPathOfCity(best.City); ok {
		result.Province = province
		result.District = district
	}
	return result, nil
}

// catalogPathOfCity walks the catalog to find which province and district a
// city belongs to.
func catalogPathOfCity(city string) (string, string, bool) {
	want := canonicalGeoName(city)
	for province, districts := range geoCatalog {
		for district, cities := range districts {
			for _, candidate := range cities {
				if candidate == want {
					return province, district, true
				}
			}
		}
	}
	return "", "", false
}

func haversineKM(lat1, lng1, lat2, lng2 float64) float64 {
	const earthRadiusKM = 6371.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKM * math.Asin(math.Sqrt(a))
}

// FallbackGeocoder tries the primary and falls back when it fails or finds
// nothing.
type FallbackGeocoder struct {
	Primary   Geocoder
	Secondary Geocoder
}

func (g *FallbackGeocoder) Geocode(ctx context.Context, lat, lng float64) (*GeocodeResult, error) {
	res, err := g.Primary.Geocode(ctx, lat, lng)
	if err != nil || res == nil {
		return g.Secondary.Geocode(ctx, lat, lng)
	}
	return res, nil
}

// reverseGeocodeHandler resolves a coordinate to a place description. It is a
// read-only lookup; persisted reports are never rewritten with its output.
func (a *App) reverseGeocodeHandler(c *gin.Context) {
	lat, latErr := strconv.ParseFloat(strings.TrimSpace(c.Query("lat")), 64)
	lng, lngErr := strconv.ParseFloat(strings.TrimSpace(c.Query("lng")), 64)
	if latErr != nil || lngErr != nil || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		writeAPIError(c, &apiError{Status: http.StatusBadRequest, Code: "invalid_location", Message: "lat and lng query parameters are required"})
		return
	}

	result, err := a.geocoder.Geocode(c.Request.Context(), lat, lng)
	if err != nil {
		a.log.Error("reverse geocode failed", "lat", lat, "lng", lng, "err", err)
		writeAPIError(c, &apiError{Status: http.StatusBadGateway, Code: "gateway_error", Message: "Reverse geocoding failed"})
		return
	}
	if result == nil {
		writeAPIError(c, &apiError{Status: http.StatusNotFound, Code: "not_found", Message: "No place found for this coordinate"})
		return
	}
	c.JSON(http.StatusOK, result)
}
