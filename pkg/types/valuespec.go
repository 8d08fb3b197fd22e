package types

import (
	"bytes"
	"encoding/json"
	"math"
)

// ValueSpec is a parameter dimension: either a literal list of numbers, or
// a range spec {start, end, step} expanded inclusively. Every numeric
// "values" field in the configuration accepts either form (spec.md §6).
type ValueSpec struct {
	Literal []float64
	IsRange bool
	Start   float64
	End     float64
	Step    float64
}

func (v *ValueSpec) UnmarshalJSON(data []byte) error {
	var asLiteral []float64
	if err := json.Unmarshal(data, &asLiteral); err == nil {
		v.Literal = asLiteral
		v.IsRange = false
		return nil
	}

	var asScalar float64
	if err := json.Unmarshal(data, &asScalar); err == nil {
		v.Literal = []float64{asScalar}
		v.IsRange = false
		return nil
	}

	var asRange struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Step  float64 `json:"step"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&asRange); err != nil {
		return &ConfigError{Field: "value_spec", Reason: err.Error()}
	}
	if asRange.Step == 0 {
		return &ConfigError{Field: "value_spec", Reason: "range step must be non-zero"}
	}
	v.IsRange = true
	v.Start, v.End, v.Step = asRange.Start, asRange.End, asRange.Step
	return nil
}

func (v ValueSpec) MarshalJSON() ([]byte, error) {
	if v.IsRange {
		return json.Marshal(struct {
			Start float64 `json:"start"`
			End   float64 `json:"end"`
			Step  float64 `json:"step"`
		}{v.Start, v.End, v.Step})
	}
	return json.Marshal(v.Literal)
}

// Expand enumerates the dimension's values. A range is expanded
// inclusively: start, start+step, ... up to and including end (within
// float epsilon), matching spec.md §6's "expanded inclusively" contract.
func (v ValueSpec) Expand() []float64 {
	if !v.IsRange {
		out := make([]float64, len(v.Literal))
		copy(out, v.Literal)
		return out
	}

	const eps = 1e-9
	var out []float64
	if v.Step > 0 {
		n := int(math.Floor((v.End-v.Start)/v.Step+eps)) + 1
		for i := 0; i < n; i++ {
			out = append(out, v.Start+float64(i)*v.Step)
		}
	} else {
		n := int(math.Floor((v.Start-v.End)/(-v.Step)+eps)) + 1
		for i := 0; i < n; i++ {
			out = append(out, v.Start+float64(i)*v.Step)
		}
	}
	return out
}
