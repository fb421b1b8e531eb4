package main

import (
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
)

// geoCatalog is the canonical three-level administrative lookup used for
// registration and report location selection: province -> district -> cities.
// Earlier revisions of the source data assigned a few districts to more than
// one province; this table keeps every district under exactly one province
// and every city under exactly one district.
var geoCatalog = map[string]map[string][]string{
	"Koshi": {
		"Morang":  {"Biratnagar", "Urlabari", "Rangeli", "Letang"},
		"Sunsari": {"Itahari", "Dharan", "Inaruwa", "Duhabi"},
		"Jhapa":   {"Birtamod", "Damak", "Mechinagar", "Kankai"},
	},
	"Madhesh": {
		"Dhanusha": {"Janakpur", "Chhireshwarnath", "Sabaila"},
		"Parsa":    {"Birgunj", "Pokhariya"},
		"Sarlahi":  {"Malangwa", "Lalbandi", "Haripur"},
	},
	"Bagmati": {
		"Kathmandu": {"Kathmandu", "Kirtipur", "Tokha", "Budhanilkantha"},
		"Lalitpur":  {"Lalitpur", "Godawari", "Mahalaxmi"},
		"Bhaktapur": {"Bhaktapur", "Madhyapur Thimi", "Changunarayan", "Suryabinayak"},
		"Chitwan":   {"Bharatpur", "Ratnanagar", "Khairahani"},
	},
	"Gandaki": {
		"Kaski":   {"Pokhara"},
		"Syangja": {"Putalibazar", "Waling"},
		"Tanahun": {"Byas", "Shuklagandaki"},
	},
	"Lumbini": {
		"Rupandehi": {"Butwal", "Siddharthanagar", "Tilottama"},
		"Banke":     {"Nepalgunj", "Kohalpur"},
		"Dang":      {"Ghorahi", "Tulsipur", "Lamahi"},
	},
	"Karnali": {
		"Surkhet": {"Birendranagar", "Bheriganga"},
		"Jumla":   {"Chandannath"},
	},
	"Sudurpashchim": {
		"Kailali":    {"Dhangadhi", "Tikapur", "Lamkichuha"},
		"Kanchanpur": {"Bhimdatta", "Punarbas", "Belauri"},
	},
}

// provinceList returns a sorted copy of the known provinces.
func provinceList() []string {
	out := make([]string, 0, len(geoCatalog))
	for province := range geoCatalog {
		out = append(out, province)
	}
	sort.Strings(out)
	return out
}

// districtsOf returns the sorted districts of a province, or an empty slice
// for an unknown province. Callers render an empty set as a disabled
// selector, never as an error.
func districtsOf(province string) []string {
	districts, ok := geoCatalog[canonicalGeoName(province)]
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(districts))
	for district := range districts {
		out = append(out, district)
	}
	sort.Strings(out)
	return out
}

// citiesOf returns the sorted cities of a district within a province. A
// district queried under the wrong province yields an empty slice.
func citiesOf(province, district string) []string {
	districts, ok := geoCatalog[canonicalGeoName(province)]
	if !ok {
		return []string{}
	}
	cities, ok := districts[canonicalGeoName(district)]
	if !ok {
		return []string{}
	}
	out := make([]string, len(cities))
	copy(out, cities)
	sort.Strings(out)
	return out
}

func isValidProvince(province string) bool {
	_, ok := geoCatalog[canonicalGeoName(province)]
	return ok
}

func isValidDistrict(province, district string) bool {
	districts, ok := geoCatalog[canonicalGeoName(province)]
	if !ok {
		return false
	}
	_, ok = districts[canonicalGeoName(district)]
	return ok
}

func isValidCity(province, district, city string) bool {
	want := canonicalGeoName(city)
	for _, candidate := range citiesOf(province, district) {
		if candidate == want {
			return true
		}
	}
	return false
}

// canonicalGeoName resolves a case-insensitive input to the catalog spelling.
// Unknown names are returned trimmed so lookups fail softly.
func canonicalGeoName(name string) string {
	trimmed := strings.TrimSpace(name)
	lower := strings.ToLower(trimmed)
	for province, districts := range geoCatalog {
		if strings.ToLower(province) == lower {
			return province
		}
		for district, cities := range districts {
			if strings.ToLower(district) == lower {
				return district
			}
			for _, city := range cities {
				if strings.ToLower(city) == lower {
					return city
				}
			}
		}
	}
	return trimmed
}

func (a *App) provincesHandler(c *gin.Context) {
	c.JSON(http.StatusOK, provinceList())
}

func (a *App) districtsHandler(c *gin.Context) {
	province := strings.TrimSpace(c.Query("province"))
	c.JSON(http.StatusOK, districtsOf(province))
}

func (a *App) citiesHandler(c *gin.Context) {
	province := strings.TrimSpace(c.Query("province"))
	district := strings.TrimSpace(c.Query("district"))
	c.JSON(http.StatusOK, citiesOf(province, district))
}
