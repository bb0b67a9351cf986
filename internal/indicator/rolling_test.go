package indicator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRollingMax(t *testing.T) {
	values := []float64{1, 3, 2, 5, 4}
	assertSeries(t, []float64{math.NaN(), math.NaN(), 3, 5, 5}, RollingMax(values, 3), "RollingMax")

	assert.Nil(t, RollingMax([]float64{1, 2}, 3))
	assert.Nil(t, RollingMax(values, 0))
}

func TestRollingMin(t *testing.T) {
	values := []float64{4, 2, 3, 1, 5}
	assertSeries(t, []float64{math.NaN(), math.NaN(), 2, 1, 1}, RollingMin(values, 3), "RollingMin")

	assert.Nil(t, RollingMin([]float64{1, 2}, 3))
	assert.Nil(t, RollingMin(values, -2))
}
