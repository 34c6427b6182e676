// Package model holds the JSON shapes of the HTTP API.
package model

type TimeWindow struct {
	Earliest string `json:"earliest,omitempty"`
	Latest   string `json:"latest,omitempty"`
}

type OptimizeRequest struct {
	Origin          string      `json:"origin"`
	Destination     string      `json:"destination"`
	VehicleType     string      `json:"vehicleType,omitempty"`
	DepartureWindow *TimeWindow `json:"departureWindow,omitempty"`
}

type OptimizeResponse struct {
	RequestID       string      `json:"requestId"`
	Origin          LocationOut `json:"origin"`
	Destination     LocationOut `json:"destination"`
	VehicleType     string      `json:"vehicleType"`
	Routes          []RouteOut  `json:"routes"`
	Recommendations []string    `json:"recommendations"`
	Degraded        bool        `json:"degraded"`
	DegradedReasons []string    `json:"degradedReasons"`
}

type RouteOut struct {
	Rank                 int          `json:"rank"`
	CandidateID          string       `json:"candidateId"`
	DistanceKm           float64      `json:"distanceKm"`
	DurationHours        float64      `json:"durationHours"`
	DrivingHours         float64      `json:"drivingHours"`
	RestStops            []RestStop   `json:"restStops"`
	Cost                 CostOut      `json:"cost"`
	PredictionAdjustment float64      `json:"predictionAdjustment"`
	Signals              []SignalOut  `json:"signals,omitempty"`
	Score                float64      `json:"score"`
	Segments             []SegmentOut `json:"segments"`
}

type CostOut struct {
	Fuel   float64 `json:"fuel"`
	Tolls  float64 `json:"tolls"`
	Driver float64 `json:"driver"`
	Total  float64 `json:"total"`
	// Clamped is set when a negative component was floored at zero.
	Clamped bool `json:"clamped,omitempty"`
}

type RestStop struct {
	LocationID   string  `json:"locationId"`
	LocationName string  `json:"locationName"`
	AfterHours   float64 `json:"afterDrivingHours"`
	EnRoute      bool    `json:"enRoute,omitempty"`
}

type SegmentOut struct {
	ID         string  `json:"id"`
	From       string  `json:"from"`
	To         string  `json:"to"`
	DistanceKm float64 `json:"distanceKm"`
	RoadClass  string  `json:"roadClass"`
	Toll       bool    `json:"toll"`
}

type SignalOut struct {
	Kind       string  `json:"kind"`
	Ref        string  `json:"ref"`
	Magnitude  float64 `json:"magnitude"`
	Confidence float64 `json:"confidence"`
	ObservedAt string  `json:"observedAt"`
}

type LocationOut struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Aliases []string `json:"aliases,omitempty"`
	Lat     float64  `json:"lat"`
	Lng     float64  `json:"lng"`
}

type VehicleOut struct {
	Type            string  `json:"type"`
	FuelBurnLPerKm  float64 `json:"fuelBurnLPerKm"`
	TollClass       int     `json:"tollClass"`
	AvgSpeedKph     float64 `json:"avgSpeedKph"`
	MaxDrivingHours float64 `json:"maxDrivingHours"`
}

// OptimizerConfig is the tenant-tunable part of the engine.
type OptimizerConfig struct {
	CostWeight       float64 `json:"costWeight"`
	TimeWeight       float64 `json:"timeWeight"`
	RiskWeight       float64 `json:"riskWeight"`
	AltCostThreshold float64 `json:"altCostThreshold"`
	MaxCandidates    int     `json:"maxCandidates"`
	RequestTimeoutMs int64   `json:"requestTimeoutMs"`
}

type NetworkReloadResponse struct {
	Source    string `json:"source"`
	Locations int    `json:"locations"`
	Segments  int    `json:"segments"`
	LoadedAt  string `json:"loadedAt"`
}

// StateEvent is one optimize lifecycle transition as streamed to clients.
type StateEvent struct {
	RequestID string `json:"requestId"`
	From      string `json:"from,omitempty"`
	To        string `json:"to"`
	At        string `json:"at"`
	Code      string `json:"code,omitempty"`
}
