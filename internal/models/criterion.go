package models

// Criterion is one weighted evaluation dimension from the gate review catalog.
// Weights across all active criteria sum to exactly 100.
type Criterion struct {
	ID         string         `yaml:"id"`
	Name       string         `yaml:"name"`
	Weight     int            `yaml:"weight"` // integer percent, 1-100
	Guidelines map[int]string `yaml:"guidelines,omitempty"` // score band {1,3,5} -> guidance text
}
