// Package affect implements the Pleasure-Arousal-Dominance model: vector algebra,
// nearest-category classification and the behavior policy derived from it.
package affect

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// NormalizeScale maps raw PAD values (roughly [-4,4]) into [-1,1].
const NormalizeScale = 4.0

var ErrDivideByZero = errors.New("affect: division by zero")

// PAD is an immutable affect vector. Methods return new values.
type PAD struct {
	P float64 `json:"p" yaml:"p"`
	A float64 `json:"a" yaml:"a"`
	D float64 `json:"d" yaml:"d"`
}

var Zero = PAD{}

func (v PAD) Add(o PAD) PAD { return PAD{v.P + o.P, v.A + o.A, v.D + o.D} }

func (v PAD) Sub(o PAD) PAD { return PAD{v.P - o.P, v.A - o.A, v.D - o.D} }

func (v PAD) Scale(k float64) PAD { return PAD{v.P * k, v.A * k, v.D * k} }

// Mul multiplies element-wise.
func (v PAD) Mul(o PAD) PAD { return PAD{v.P * o.P, v.A * o.A, v.D * o.D} }

// Div divides every dimension by k.
func (v PAD) Div(k float64) (PAD, error) {
	if k == 0 {
		return Zero, ErrDivideByZero
	}
	return PAD{v.P / k, v.A / k, v.D / k}, nil
}

// DivVec divides element-wise. Any zero dimension in o is an error.
func (v PAD) DivVec(o PAD) (PAD, error) {
	if o.P == 0 || o.A == 0 || o.D == 0 {
		return Zero, ErrDivideByZero
	}
	return PAD{v.P / o.P, v.A / o.A, v.D / o.D}, nil
}

func (v PAD) Normalize() PAD {
	n, _ := v.Div(NormalizeScale)
	return n
}

// Distance is the Euclidean distance between v and o.
func (v PAD) Distance(o PAD) float64 {
	dp, da, dd := v.P-o.P, v.A-o.A, v.D-o.D
	return math.Sqrt(dp*dp + da*da + dd*dd)
}

// String renders "p,a,d", the stored form.
func (v PAD) String() string {
	return strings.Join([]string{
		strconv.FormatFloat(v.P, 'f', -1, 64),
		strconv.FormatFloat(v.A, 'f', -1, 64),
		strconv.FormatFloat(v.D, 'f', -1, 64),
	}, ",")
}

// ParsePAD reads the form produced by String.
func ParsePAD(s string) (PAD, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return Zero, fmt.Errorf("affect: invalid pad %q", s)
	}
	var out [3]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return Zero, fmt.Errorf("affect: invalid pad %q: %w", s, err)
		}
		out[i] = f
	}
	return PAD{out[0], out[1], out[2]}, nil
}

// PadScale12 is the 12-item questionnaire answered by the stimulus extractor.
// Each answer is in [-4,4].
type PadScale12 struct {
	Q1  float64 `json:"q1"`
	Q2  float64 `json:"q2"`
	Q3  float64 `json:"q3"`
	Q4  float64 `json:"q4"`
	Q5  float64 `json:"q5"`
	Q6  float64 `json:"q6"`
	Q7  float64 `json:"q7"`
	Q8  float64 `json:"q8"`
	Q9  float64 `json:"q9"`
	Q10 float64 `json:"q10"`
	Q11 float64 `json:"q11"`
	Q12 float64 `json:"q12"`
}

func (s PadScale12) PAD() PAD {
	return PAD{
		P: (s.Q1 - s.Q4 + s.Q7 - s.Q10) / 4,
		A: (-s.Q2 + s.Q5 - s.Q8 + s.Q11) / 4,
		D: (s.Q3 - s.Q6 + s.Q9 - s.Q12) / 4,
	}
}

// DecayLevel is how much of the previous emotion survives one analysis step.
type DecayLevel float64

const (
	DecayHigh   DecayLevel = 0.85
	DecayMedium DecayLevel = 0.7
	DecayLow    DecayLevel = 0.5
)

// DecayForMessages picks the level from the number of new messages in the window.
func DecayForMessages(n int) DecayLevel {
	switch {
	case n > 150:
		return DecayHigh
	case n > 80:
		return DecayMedium
	default:
		return DecayLow
	}
}
