package affect

import (
	"encoding/json"
	"fmt"
)

// Category is a named affect region. Declaration order breaks distance ties.
type Category int

const (
	Joy Category = iota
	Optimism
	Relaxation
	Surprise
	Mildness
	Dependence
	Boredom
	Sadness
	Fear
	Anxiety
	Contempt
	Disgust
	Resentment
	Hostility
)

var categoryNames = [...]string{
	"JOY", "OPTIMISM", "RELAXATION", "SURPRISE", "MILDNESS", "DEPENDENCE", "BOREDOM",
	"SADNESS", "FEAR", "ANXIETY", "CONTEMPT", "DISGUST", "RESENTMENT", "HOSTILITY",
}

var categoryVectors = [...]PAD{
	Joy:        {2.77, 1.21, 1.42},
	Optimism:   {2.48, 1.05, 1.75},
	Relaxation: {2.19, -0.66, 1.05},
	Surprise:   {1.72, 1.71, 0.22},
	Mildness:   {1.57, -0.79, 0.38},
	Dependence: {0.39, -0.81, 1.48},
	Boredom:    {-0.53, -1.25, -0.84},
	Sadness:    {-0.89, 0.17, -0.70},
	Fear:       {-0.93, 1.30, -0.64},
	Anxiety:    {-0.95, 0.32, -0.63},
	Contempt:   {-1.58, 0.32, 1.02},
	Disgust:    {-1.80, 0.40, 0.67},
	Resentment: {-1.98, 1.10, 0.60},
	Hostility:  {-2.08, 1.00, 1.12},
}

// Categories returns all categories in declaration order.
func Categories() []Category {
	out := make([]Category, len(categoryVectors))
	for i := range out {
		out[i] = Category(i)
	}
	return out
}

// Vector returns the canonical PAD of c.
func (c Category) Vector() PAD {
	if c < 0 || int(c) >= len(categoryVectors) {
		return Zero
	}
	return categoryVectors[c]
}

func (c Category) String() string {
	if c < 0 || int(c) >= len(categoryNames) {
		return fmt.Sprintf("Category(%d)", int(c))
	}
	return categoryNames[c]
}

// ParseCategory is the inverse of String.
func ParseCategory(s string) (Category, error) {
	for i, n := range categoryNames {
		if n == s {
			return Category(i), nil
		}
	}
	return 0, fmt.Errorf("affect: unknown category %q", s)
}

func (c Category) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Category) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseCategory(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Closest returns the category nearest to v. The first minimum wins.
func Closest(v PAD) Category {
	best := Category(0)
	bestDist := v.Distance(categoryVectors[0])
	for i := 1; i < len(categoryVectors); i++ {
		if d := v.Distance(categoryVectors[i]); d < bestDist {
			best, bestDist = Category(i), d
		}
	}
	return best
}
