package model

import "time"

// DateLayout is the calendar-day key used for history and the rollover marker.
const DateLayout = "2006-01-02"

type Sex string

const (
	SexMale   Sex = "male"
	SexFemale Sex = "female"
)

type Goal string

const (
	GoalLose     Goal = "lose"
	GoalMaintain Goal = "maintain"
	GoalGain     Goal = "gain"
)

const (
	SourceManual  = "manual"
	SourcePhoto   = "photo"
	SourceText    = "text"
	SourceBarcode = "barcode"
)

type Profile struct {
	Sex       Sex     `json:"sex"`
	HeightCm  float64 `json:"height_cm"`
	WeightKg  float64 `json:"weight_kg"`
	Age       int     `json:"age"`
	Birthdate string  `json:"birthdate,omitempty"`
	Activity  float64 `json:"activity"`
	Goal      Goal    `json:"goal"`

	// Onboarding answers; informational only.
	Stopper    string `json:"stopper,omitempty"`
	Diet       string `json:"diet,omitempty"`
	Accomplish string `json:"accomplish,omitempty"`
}

type Targets struct {
	Calories float64 `json:"calories"`
	ProteinG float64 `json:"protein_g"`
	CarbsG   float64 `json:"carbs_g"`
	FatG     float64 `json:"fat_g"`
}

type FoodEntry struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Calories   float64   `json:"calories"`
	ProteinG   float64   `json:"protein_g"`
	CarbsG     float64   `json:"carbs_g"`
	FatG       float64   `json:"fat_g"`
	ConsumedAt time.Time `json:"consumed_at"`
	Thumbnail  string    `json:"thumbnail,omitempty"`
	Source     string    `json:"source,omitempty"`
}

type DayTotals struct {
	Calories float64 `json:"calories"`
	ProteinG float64 `json:"protein_g"`
	CarbsG   float64 `json:"carbs_g"`
	FatG     float64 `json:"fat_g"`
}

func (d DayTotals) IsZero() bool {
	return d == DayTotals{}
}

// LedgerState is the root aggregate owned by a ledger. Entries are kept in
// insertion order; Today is always the sum of Entries.
type LedgerState struct {
	Profile    *Profile             `json:"profile,omitempty"`
	Targets    Targets              `json:"targets"`
	LastUpdate string               `json:"last_update"`
	Entries    []FoodEntry          `json:"entries"`
	Today      DayTotals            `json:"today"`
	History    map[string]DayTotals `json:"history"`
}

// Clone returns a deep copy so snapshots handed to displays cannot alias
// ledger internals.
func (s LedgerState) Clone() LedgerState {
	out := s
	if s.Profile != nil {
		p := *s.Profile
		out.Profile = &p
	}
	out.Entries = make([]FoodEntry, len(s.Entries))
	copy(out.Entries, s.Entries)
	out.History = make(map[string]DayTotals, len(s.History))
	for k, v := range s.History {
		out.History[k] = v
	}
	return out
}
