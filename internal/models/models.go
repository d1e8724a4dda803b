package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// DriverStatus is the driver availability state. Exactly one value is
// active at a time; transitions happen on explicit go-online/go-offline
// actions or on order accept/finish.
type DriverStatus string

const (
	StatusOffline DriverStatus = "offline"
	StatusOnline  DriverStatus = "online"
	StatusBusy    DriverStatus = "busy"
)

// RideStage is one of the four sequential phases of an accepted ride.
type RideStage int

const (
	StageToPickup RideStage = iota + 1
	StageAboard
	StageToDestination
	StageCompleted
)

func (s RideStage) String() string {
	switch s {
	case StageToPickup:
		return "to_pickup"
	case StageAboard:
		return "passenger_aboard"
	case StageToDestination:
		return "to_destination"
	case StageCompleted:
		return "completed"
	}
	return "unknown"
}

type Driver struct {
	ID         int64   `json:"id"`
	Phone      string  `json:"phone"`
	FirstName  string  `json:"first_name"`
	LastName   string  `json:"last_name"`
	MiddleName string  `json:"middle_name,omitempty"`
	Rating     float64 `json:"rating"` // 0..5
}

type Order struct {
	ID                 int64   `json:"id"`
	PickupAddress      string  `json:"pickup_address"`
	PickupLat          float64 `json:"pickup_lat"`
	PickupLon          float64 `json:"pickup_lon"`
	DestinationAddress string  `json:"destination_address"`
	DestinationLat     float64 `json:"destination_lat"`
	DestinationLon     float64 `json:"destination_lon"`
	DistanceKm         float64 `json:"distance_km"`
	DurationMinutes    int     `json:"duration_minutes"`
	Price              float64 `json:"price"`
	PassengerPhone     string  `json:"passenger_phone,omitempty"`
	Status             string  `json:"status,omitempty"`
}

func (o Order) Pickup() Coord      { return Coord{Lat: o.PickupLat, Lon: o.PickupLon} }
func (o Order) Destination() Coord { return Coord{Lat: o.DestinationLat, Lon: o.DestinationLon} }

// DriverStats is the lifetime aggregate the backend keeps per driver.
type DriverStats struct {
	TotalRides    int     `json:"total_rides"`
	TotalEarnings float64 `json:"total_earnings"`
	Rating        float64 `json:"rating"`
}

// TodayStats is the rolling daily summary shown on the main screen.
type TodayStats struct {
	Rides    int     `json:"rides"`
	Earnings float64 `json:"earnings"`
	Hours    float64 `json:"hours"`
}

// Document slots a registration draft can mark as uploaded. The upload
// itself is a stub; only the marker travels with the draft.
const (
	DocLicenseFront = "license_front"
	DocLicenseBack  = "license_back"
	DocInsurance    = "insurance"
	DocCarFront     = "car_front"
)

// RegistrationDraft is the mutable four-step wizard state, submitted
// atomically and discarded afterwards.
type RegistrationDraft struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	MiddleName string `json:"middle_name,omitempty"`
	BirthDate  string `json:"birth_date,omitempty"`

	CarBrand string `json:"car_brand"`
	CarModel string `json:"car_model"`
	CarYear  string `json:"car_year,omitempty"`
	CarColor string `json:"car_color,omitempty"`
	CarPlate string `json:"car_plate"`

	LicenseNumber   string `json:"license_number"`
	LicenseExpiry   string `json:"license_expiry,omitempty"`
	InsuranceNumber string `json:"insurance_number,omitempty"`
	InsuranceExpiry string `json:"insurance_expiry,omitempty"`

	Documents  map[string]bool `json:"documents"`
	AgreeTerms bool            `json:"agree_terms"`
}

func NewRegistrationDraft() *RegistrationDraft {
	return &RegistrationDraft{Documents: map[string]bool{
		DocLicenseFront: false,
		DocLicenseBack:  false,
		DocInsurance:    false,
		DocCarFront:     false,
	}}
}

type ProblemType struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type ProblemReport struct {
	ProblemType string    `json:"problem_type"`
	Description string    `json:"description,omitempty"`
	OrderID     *int64    `json:"order_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}
