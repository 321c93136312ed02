package models

// Sequence is a named counter row. Values issued from it are unique and
// monotonic unless Cycle wraps the counter back to MinValue after MaxValue.
type Sequence struct {
	Name         string `json:"name" db:"name"`
	CurrentValue int64  `json:"current_value" db:"current_value"`
	Increment    int64  `json:"increment" db:"increment"`
	MinValue     int64  `json:"min_value" db:"min_value"`
	MaxValue     int64  `json:"max_value" db:"max_value"`
	Cycle        bool   `json:"cycle" db:"cycle"`
}
