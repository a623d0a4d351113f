package geo

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

const (
	earthRadiusKM = 6371
	// AverageSpeedKMH is the city speed used for duration estimates.
	AverageSpeedKMH = 30
)

var (
	ErrInvalidRideClass  = errors.New("invalid ride class")
	ErrInvalidCoordinate = errors.New("invalid coordinate")
)

// Point is a WGS84 position in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (p Point) Validate() error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) {
		return ErrInvalidCoordinate
	}
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("%w: latitude %v", ErrInvalidCoordinate, p.Lat)
	}
	if p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("%w: longitude %v", ErrInvalidCoordinate, p.Lng)
	}
	return nil
}

// DistanceKM returns the great-circle distance between a and b using the haversine formula.
func DistanceKM(a, b Point) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := toRadians(b.Lat - a.Lat)
	dLng := toRadians(b.Lng - a.Lng)

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)

	calc := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLng*sinLng
	return earthRadiusKM * 2 * math.Atan2(math.Sqrt(calc), math.Sqrt(1-calc))
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

func toDegrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

type RideClass string

const (
	ClassEconomy  RideClass = "economy"
	ClassComfort  RideClass = "comfort"
	ClassBusiness RideClass = "business"
)

// Rate is the tariff of one ride class.
type Rate struct {
	Base  float64 `json:"base"`
	PerKM float64 `json:"perKm"`
}

var rates = map[RideClass]Rate{
	ClassEconomy:  {Base: 150, PerKM: 25},
	ClassComfort:  {Base: 200, PerKM: 35},
	ClassBusiness: {Base: 300, PerKM: 50},
}

// RateFor returns the tariff for class.
func RateFor(class RideClass) (Rate, error) {
	rate, ok := rates[class]
	if !ok {
		return Rate{}, fmt.Errorf("%w: %q", ErrInvalidRideClass, class)
	}
	return rate, nil
}

// EstimateFare prices a trip of distanceKM; the base fare is also the minimum.
func EstimateFare(distanceKM float64, class RideClass) (float64, error) {
	rate, err := RateFor(class)
	if err != nil {
		return 0, err
	}
	return math.Max(rate.Base, rate.Base+distanceKM*rate.PerKM), nil
}

// EstimateDurationMinutes converts a distance into whole minutes at AverageSpeedKMH.
func EstimateDurationMinutes(distanceKM float64) int {
	return int(math.Round(distanceKM / AverageSpeedKMH * 60))
}

// Estimate is a priced trip between two points.
type Estimate struct {
	DistanceKM      float64   `json:"distanceKm"`
	Fare            float64   `json:"fare"`
	DurationMinutes int       `json:"durationMinutes"`
	Class           RideClass `json:"rideClass"`
}

func Quote(pickup, destination Point, class RideClass) (Estimate, error) {
	if err := pickup.Validate(); err != nil {
		return Estimate{}, err
	}
	if err := destination.Validate(); err != nil {
		return Estimate{}, err
	}
	dist := DistanceKM(pickup, destination)
	fare, err := EstimateFare(dist, class)
	if err != nil {
		return Estimate{}, err
	}
	return Estimate{
		DistanceKM:      dist,
		Fare:            fare,
		DurationMinutes: EstimateDurationMinutes(dist),
		Class:           class,
	}, nil
}

// Candidate is a driver id with its distance from a search point.
type Candidate struct {
	ID         string  `json:"driverId"`
	DistanceKM float64 `json:"distanceKm"`
}

// SortCandidates orders by ascending distance, then by id.
func SortCandidates(c []Candidate) {
	sort.Slice(c, func(i, j int) bool {
		if c[i].DistanceKM != c[j].DistanceKM {
			return c[i].DistanceKM < c[j].DistanceKM
		}
		return c[i].ID < c[j].ID
	})
}
