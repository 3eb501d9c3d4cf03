package predict

import (
	"fmt"
	"math"
)

// Forecaster is the pluggable model contract: deterministic for the
// same input and version, bounded running time proportional to the
// input length.
type Forecaster interface {
	Version() string
	Forecast(prices []float64, horizon int) ([]float64, error)
}

// DampedTrend fits a least-squares line over the tail of the series and
// extends it with a geometrically damped slope, so long horizons decay
// toward a flat continuation instead of running off the trend.
type DampedTrend struct {
	// Window caps how many trailing points the fit sees. Zero means the
	// whole series.
	Window int
	// Damping in (0, 1]; each step ahead multiplies the slope by it.
	Damping float64
}

func NewDampedTrend() *DampedTrend {
	return &DampedTrend{Window: 30, Damping: 0.9}
}

func (d *DampedTrend) Version() string {
	return fmt.Sprintf("damped-trend/1 w=%d phi=%g", d.Window, d.Damping)
}

func (d *DampedTrend) Forecast(prices []float64, horizon int) ([]float64, error) {
	if len(prices) < 2 {
		return nil, fmt.Errorf("damped trend needs at least 2 points, got %d", len(prices))
	}
	if horizon < 1 {
		return nil, fmt.Errorf("horizon must be positive, got %d", horizon)
	}

	tail := prices
	if d.Window > 0 && len(tail) > d.Window {
		tail = tail[len(tail)-d.Window:]
	}

	// Least squares over x = 0..n-1.
	n := float64(len(tail))
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range tail {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return nil, fmt.Errorf("degenerate fit over %d points", len(tail))
	}
	slope := (n*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / n

	level := intercept + slope*(n-1)
	phi := d.Damping
	if phi <= 0 || phi > 1 {
		phi = 1
	}

	out := make([]float64, horizon)
	step := slope
	for h := 0; h < horizon; h++ {
		step *= phi
		level += step
		if level < 0 {
			level = 0
		}
		if math.IsNaN(level) || math.IsInf(level, 0) {
			return nil, fmt.Errorf("non-finite forecast at step %d", h+1)
		}
		out[h] = level
	}
	return out, nil
}
