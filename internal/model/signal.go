package model

// Detection is the outcome of evaluating one strategy against a snapshot.
type Detection struct {
	Strategy       string
	Triggered      bool
	SuggestedEntry float64
}
