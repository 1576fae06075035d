package analysis

import (
	"fmt"
	"math"
	"sort"
)

// Summary holds the aggregate statistics of one validated dataset.
type Summary struct {
	TotalCount       int            `json:"total_count"`
	AvgFlowrate      float64        `json:"avg_flowrate"`
	AvgPressure      float64        `json:"avg_pressure"`
	AvgTemperature   float64        `json:"avg_temperature"`
	TypeDistribution map[string]int `json:"type_distribution"`
}

// TypeCount is a single entry of a type distribution.
type TypeCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// Aggregate computes row count, column means and the type distribution in a
// single pass. It is a pure function of rows. Means use Welford's running
// update.
func Aggregate(rows []Row) (Summary, error) {
	if len(rows) == 0 {
		return Summary{}, ErrEmptyDataset
	}
	var flow, press, temp runningMean
	dist := make(map[string]int)
	for _, r := range rows {
		flow.add(r.Flowrate)
		press.add(r.Pressure)
		temp.add(r.Temperature)
		dist[r.Type]++
	}
	s := Summary{
		TotalCount:       len(rows),
		AvgFlowrate:      flow.mean,
		AvgPressure:      press.mean,
		AvgTemperature:   temp.mean,
		TypeDistribution: dist,
	}
	if err := s.CheckFinite(); err != nil {
		return Summary{}, err
	}
	return s, nil
}

// CheckFinite reports an ErrValidation-class error naming the first average
// that is NaN or infinite.
func (s Summary) CheckFinite() error {
	for _, avg := range []struct {
		col string
		v   float64
	}{
		{ColFlowrate, s.AvgFlowrate},
		{ColPressure, s.AvgPressure},
		{ColTemperature, s.AvgTemperature},
	} {
		if math.IsNaN(avg.v) || math.IsInf(avg.v, 0) {
			return fmt.Errorf("%w: average %s is out of range", ErrValidation, avg.col)
		}
	}
	return nil
}

type runningMean struct {
	n    int
	mean float64
}

// add scales before subtracting so values near the float64 limit cannot overflow.
func (m *runningMean) add(x float64) {
	m.n++
	n := float64(m.n)
	m.mean += x/n - m.mean/n
}

// SortedTypes returns the distribution ordered by type ascending.
func (s Summary) SortedTypes() []TypeCount {
	out := make([]TypeCount, 0, len(s.TypeDistribution))
	for k, v := range s.TypeDistribution {
		out = append(out, TypeCount{Type: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// Clone returns a copy that shares no map with s.
func (s Summary) Clone() Summary {
	c := s
	c.TypeDistribution = make(map[string]int, len(s.TypeDistribution))
	for k, v := range s.TypeDistribution {
		c.TypeDistribution[k] = v
	}
	return c
}
