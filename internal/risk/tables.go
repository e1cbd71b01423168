package risk

import (
	"fmt"
	"strings"
)

// FinancialCenter is a curated point whose surroundings carry an elevated
// location impact.
type FinancialCenter struct {
	Name      string  `yaml:"name" json:"name"`
	Latitude  float64 `yaml:"latitude" json:"latitude"`
	Longitude float64 `yaml:"longitude" json:"longitude"`
	RadiusKm  float64 `yaml:"radius_km" json:"radius_km"`
	Score     float64 `yaml:"score" json:"score"`
}

// Region maps a geographic anchor to the markets and currency exposed to it.
type Region struct {
	Name      string   `yaml:"name" json:"name"`
	Latitude  float64  `yaml:"latitude" json:"latitude"`
	Longitude float64  `yaml:"longitude" json:"longitude"`
	Markets   []string `yaml:"markets" json:"markets"`
	Currency  string   `yaml:"currency" json:"currency"`
}

// Tables bundles the curated lookup data used by the scoring model.
type Tables struct {
	Centers        []FinancialCenter `yaml:"centers"`
	Regions        []Region          `yaml:"regions"`
	RegionRadiusKm float64           `yaml:"region_radius_km"`
}

const (
	DefaultLocationImpact = 30.0
	DefaultRegionRadiusKm = 800.0
)

var (
	FallbackMarkets    = []string{"GLOBAL_MARKETS"}
	FallbackCurrencies = []string{"USD", "EUR"}
)

// DefaultTables returns the built-in center and region catalog.
func DefaultTables() Tables {
	return Tables{
		Centers: []FinancialCenter{
			{Name: "Tokyo", Latitude: 35.6762, Longitude: 139.6503, RadiusKm: 500, Score: 90},
			{Name: "San Francisco", Latitude: 37.7749, Longitude: -122.4194, RadiusKm: 400, Score: 85},
			{Name: "New York", Latitude: 40.7128, Longitude: -74.0060, RadiusKm: 300, Score: 90},
			{Name: "London", Latitude: 51.5074, Longitude: -0.1278, RadiusKm: 300, Score: 85},
			{Name: "Hong Kong", Latitude: 22.3193, Longitude: 114.1694, RadiusKm: 350, Score: 80},
		},
		Regions: []Region{
			{Name: "Japan", Latitude: 35.6762, Longitude: 139.6503, Markets: []string{"NIKKEI", "JPX"}, Currency: "JPY"},
			{Name: "US-West", Latitude: 37.7749, Longitude: -122.4194, Markets: []string{"NASDAQ", "NYSE", "SP500"}, Currency: "USD"},
			{Name: "Australia", Latitude: -33.8688, Longitude: 151.2093, Markets: []string{"ASX200"}, Currency: "AUD"},
			{Name: "China", Latitude: 31.2304, Longitude: 121.4737, Markets: []string{"SSE", "SZSE"}, Currency: "CNY"},
		},
		RegionRadiusKm: DefaultRegionRadiusKm,
	}
}

// ValidateTables checks the catalog. Any problem here is a startup error.
func ValidateTables(t Tables) error {
	var errs []string
	if len(t.Centers) == 0 {
		errs = append(errs, "at least one financial center is required")
	}
	if t.RegionRadiusKm <= 0 {
		errs = append(errs, fmt.Sprintf("region_radius_km must be positive, got %v", t.RegionRadiusKm))
	}
	seen := make(map[string]bool)
	for i, c := range t.Centers {
		loc := fmt.Sprintf("centers[%d]", i)
		if c.Name == "" {
			errs = append(errs, loc+": name is required")
		} else {
			loc = fmt.Sprintf("center %s", c.Name)
			if seen["c:"+c.Name] {
				errs = append(errs, fmt.Sprintf("duplicate center %q", c.Name))
			}
			seen["c:"+c.Name] = true
		}
		errs = append(errs, checkPoint(loc, c.Latitude, c.Longitude)...)
		if c.RadiusKm <= 0 {
			errs = append(errs, fmt.Sprintf("%s: radius_km must be positive", loc))
		}
		if c.Score < 0 || c.Score > 100 {
			errs = append(errs, fmt.Sprintf("%s: score %v outside 0-100", loc, c.Score))
		}
	}
	for i, r := range t.Regions {
		loc := fmt.Sprintf("regions[%d]", i)
		if r.Name == "" {
			errs = append(errs, loc+": name is required")
		} else {
			loc = fmt.Sprintf("region %s", r.Name)
			if seen["r:"+r.Name] {
				errs = append(errs, fmt.Sprintf("duplicate region %q", r.Name))
			}
			seen["r:"+r.Name] = true
		}
		errs = append(errs, checkPoint(loc, r.Latitude, r.Longitude)...)
		if len(r.Markets) == 0 {
			errs = append(errs, fmt.Sprintf("%s: markets must not be empty", loc))
		}
		if r.Currency == "" {
			errs = append(errs, fmt.Sprintf("%s: currency is required", loc))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("risk tables invalid:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func checkPoint(loc string, lat, lon float64) []string {
	var errs []string
	if lat < -90 || lat > 90 {
		errs = append(errs, fmt.Sprintf("%s: latitude %v out of range", loc, lat))
	}
	if lon < -180 || lon > 180 {
		errs = append(errs, fmt.Sprintf("%s: longitude %v out of range", loc, lon))
	}
	return errs
}
