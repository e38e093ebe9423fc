package device

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemperature_Conversion(t *testing.T) {
	tests := []struct {
		name     string
		celsius  int
		unit     string
		want     float64
		wantText string
	}{
		{name: "100 C", celsius: 100, unit: "C", want: 100, wantText: "100 C"},
		{name: "100 F", celsius: 100, unit: "F", want: 212, wantText: "212 F"},
		{name: "-40 F", celsius: -40, unit: "F", want: -40, wantText: "-40 F"},
		{name: "0 F", celsius: 0, unit: "f", want: 32, wantText: "32 F"},
		{name: "-100 C", celsius: -100, unit: "C", want: -100, wantText: "-100 C"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			temp := NewTemperature("TEMP", func() int { return tt.celsius })
			require.NoError(t, temp.SetConfig(tt.unit, Options{}))

			r, err := temp.Data()
			require.NoError(t, err)
			assert.InDelta(t, tt.want, r.Value, 1e-9)
			assert.Equal(t, tt.wantText, r.Text)
			assert.True(t, r.Numeric)
		})
	}
}

func TestTemperature_UnitChangeKeepsStoredReading(t *testing.T) {
	next := 100
	temp := NewTemperature("TEMP", func() int { return next })

	_, err := temp.Data()
	require.NoError(t, err)
	require.NoError(t, temp.SetConfig("F", Options{}))

	assert.Equal(t, 100, temp.Last())
	assert.Equal(t, "F", temp.Config())
}

func TestTemperature_FreshReadingEachCall(t *testing.T) {
	n := 0
	temp := NewTemperature("TEMP", func() int { n++; return n })

	a, _ := temp.Data()
	b, _ := temp.Data()
	assert.NotEqual(t, a.Value, b.Value)
}

func TestTemperature_DefaultSamplerRange(t *testing.T) {
	temp := NewTemperature("TEMP", nil)
	for range 1000 {
		r, err := temp.Data()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, r.Value, float64(MinCelsius))
		assert.LessOrEqual(t, r.Value, float64(MaxCelsius))
	}
}

func TestTemperature_InvalidUnit(t *testing.T) {
	temp := NewTemperature("TEMP", nil)
	assert.ErrorIs(t, temp.SetConfig("K", Options{}), ErrInvalidConfig)
	assert.Equal(t, "C", temp.Config())
}

func TestPower_ReadingWithinJitter(t *testing.T) {
	p := NewPower("POWER", 5, nil)
	for range 1000 {
		r, err := p.Data()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, r.Value, 4.8)
		assert.LessOrEqual(t, r.Value, 5.2)
		assert.Equal(t, "V", r.Unit)
	}
}

func TestPower_Bounds(t *testing.T) {
	low := NewPower("POWER", 5, func() float64 { return 0 })
	r, _ := low.Data()
	assert.InDelta(t, 4.8, r.Value, 1e-9)
	assert.Equal(t, "4.800V", r.Text)

	rng := rand.New(rand.NewPCG(1, 2))
	seeded := NewPower("POWER", 3.3, rng.Float64)
	r, _ = seeded.Data()
	assert.InDelta(t, 3.3, r.Value, PowerJitter)
}

func TestPower_Config(t *testing.T) {
	p := NewPower("POWER", 5, nil)
	assert.Equal(t, "5V", p.Config())

	tests := []struct {
		value   string
		want    string
		wantErr bool
	}{
		{value: "3.3", want: "3.3V"},
		{value: "12V", want: "12V"},
		{value: " 5 ", want: "5V"},
		{value: "0", wantErr: true},
		{value: "-1", wantErr: true},
		{value: "lots", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			before := p.Config()
			err := p.SetConfig(tt.value, Options{})
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidConfig)
				assert.Equal(t, before, p.Config())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Config())
		})
	}
}

func TestBase_StatusAccessors(t *testing.T) {
	p := NewPower("POWER", 5, nil)
	assert.Equal(t, StatusOff, p.Status())
	p.SetStatus(StatusOn)
	assert.Equal(t, StatusOn, p.Status())
	assert.Equal(t, KindPower, p.Kind())
	assert.Empty(t, p.Address())
}
