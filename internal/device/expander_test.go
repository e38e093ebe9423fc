package device

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/hwsim/internal/hal"
)

func TestExpander_Config(t *testing.T) {
	sim := hal.NewSim()
	bank, err := sim.Expander("", 0x20)
	require.NoError(t, err)
	exp := NewExpander("MCP", bank)

	assert.Equal(t, StatusOn, exp.Status())
	assert.Empty(t, exp.Config())

	require.NoError(t, exp.SetConfig("2, 0,1", Options{}))
	assert.Equal(t, "0,1,2", exp.Config())

	assert.ErrorIs(t, exp.SetConfig("16", Options{}), ErrInvalidConfig)
	assert.ErrorIs(t, exp.SetConfig("a", Options{}), ErrInvalidConfig)
	assert.ErrorIs(t, exp.SetConfig("", Options{}), ErrInvalidConfig)
	assert.Equal(t, "0,1,2", exp.Config())
}

func TestExpander_DataReflectsPins(t *testing.T) {
	sim := hal.NewSim()
	bank, err := sim.Expander("", 0x20)
	require.NoError(t, err)
	exp := NewExpander("MCP", bank)
	require.NoError(t, exp.SetConfig("0,1", Options{}))

	out, err := exp.Pin(1)
	require.NoError(t, err)
	require.NoError(t, out.Set(hal.High))

	r, err := exp.Data()
	require.NoError(t, err)
	assert.Equal(t, "0:LOW,1:HIGH", r.Text)
}

func TestBuild(t *testing.T) {
	sim := hal.NewSim()
	specs := []Spec{
		{Alias: "LED_BLUE", Kind: KindLED, Pin: "P8_10"},
		{Alias: "TEMP", Kind: KindTemperature, Unit: "F"},
		{Alias: "POWER", Kind: KindPower, Voltage: 5},
		{Alias: "LED_RED", Kind: KindLED, Expander: "MCP", ExpanderPin: 0},
		{Alias: "MCP", Kind: KindExpander, Address: 0x20, Outputs: []int{0, 1, 2}},
	}

	devices, err := Build(specs, sim, Options{Timeout: time.Minute, Rate: time.Second})
	require.NoError(t, err)
	require.Len(t, devices, len(specs))

	for i, d := range devices {
		assert.Equal(t, specs[i].Alias, d.Alias())
		assert.Equal(t, specs[i].Kind, d.Kind())
	}
	assert.Equal(t, "F", devices[1].Config())
	assert.Equal(t, "0,1,2", devices[4].Config())

	require.NoError(t, devices[3].SetConfig("ON", Options{}))
	assert.Equal(t, hal.High, sim.Pin(hal.ExpanderPinName("", 0x20, 0)).Level())
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name    string
		spec    Spec
		wantErr error
	}{
		{name: "missing alias", spec: Spec{Kind: KindPower, Voltage: 5}, wantErr: ErrInvalidDevice},
		{name: "led without output", spec: Spec{Alias: "L", Kind: KindLED}, wantErr: ErrInvalidDevice},
		{name: "unknown expander", spec: Spec{Alias: "L", Kind: KindLED, Expander: "NOPE"}, wantErr: ErrInvalidDevice},
		{name: "zero voltage", spec: Spec{Alias: "P", Kind: KindPower}, wantErr: ErrInvalidDevice},
		{name: "bad unit", spec: Spec{Alias: "T", Kind: KindTemperature, Unit: "K"}, wantErr: ErrInvalidConfig},
		{name: "bad kind", spec: Spec{Alias: "X", Kind: "relay"}, wantErr: ErrInvalidKind},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build([]Spec{tt.spec}, hal.NewSim(), Options{})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
