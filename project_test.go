package mbscript

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeo-scada/mbscript/modbus"
)

const plantYAML = `
name: plant
register_order: R3R2R1R0
devices:
  - id: boiler
    address: 192.168.1.10:1502
    unit: 4
    timeout: 2s
    holding_registers: 200
  - id: sim
    coils: 16
script_modules:
  - helpers
`

func TestLoadProjectYAML(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/prj/plant.yaml", []byte(plantYAML), 0o644))

	prj, err := LoadProject(fs, "/prj/plant.yaml")
	require.NoError(t, err)

	assert.Equal(t, "/prj/plant.yaml", prj.Path)
	assert.Equal(t, "plant", prj.Name)
	assert.Equal(t, []string{"helpers"}, prj.ScriptModules)
	require.Len(t, prj.Devices, 2)

	order, err := prj.Order()
	require.NoError(t, err)
	assert.Equal(t, modbus.R3R2R1R0, order)

	boiler, ok := prj.Device("boiler")
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, boiler.Timeout)
	assert.Equal(t, 200, boiler.Sizes().HoldingRegisters)
	assert.Equal(t, modbus.MaxTableSize, boiler.Sizes().Coils)

	ep, err := boiler.Endpoint()
	require.NoError(t, err)
	assert.Equal(t, Endpoint{Address: "192.168.1.10:1502", Unit: 4}, ep)

	_, ok = prj.Device("missing")
	assert.False(t, ok)
}

func TestDeviceConfigEndpointUnit(t *testing.T) {
	tests := []struct {
		name string
		cfg  DeviceConfig
		want Endpoint
	}{
		{"url with unit override", DeviceConfig{Address: "tcp://10.0.0.1:1502/2", Unit: 7}, Endpoint{"10.0.0.1:1502", 7}},
		{"url unit kept", DeviceConfig{Address: "tcp://10.0.0.1:1502/2"}, Endpoint{"10.0.0.1:1502", 2}},
		{"bare address with unit", DeviceConfig{Address: "10.0.0.1", Unit: 9}, Endpoint{"10.0.0.1:502", 9}},
		{"bare address default unit", DeviceConfig{Address: "10.0.0.1:1502"}, Endpoint{"10.0.0.1:1502", 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cfg.Endpoint()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadProjectJSONAndDefaults(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/line2.json", []byte(`{"devices":[{"id":"a"}]}`), 0o644))

	prj, err := LoadProject(fs, "/line2.json")
	require.NoError(t, err)
	assert.Equal(t, "line2", prj.Name)

	order, err := prj.Order()
	require.NoError(t, err)
	assert.Equal(t, modbus.R0R1R2R3, order)
}

func TestLoadProjectErrors(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/dup.yaml", []byte("devices: [{id: a}, {id: a}]"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/noid.yaml", []byte("devices: [{address: 'h:1'}]"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/order.yaml", []byte("register_order: ABCD"), 0o644))

	_, err := LoadProject(fs, "/dup.yaml")
	assert.ErrorIs(t, err, ErrInvalidDevice)

	_, err = LoadProject(fs, "/noid.yaml")
	assert.ErrorIs(t, err, ErrInvalidDevice)

	_, err = LoadProject(fs, "/order.yaml")
	assert.Error(t, err)

	_, err = LoadProject(fs, "/missing.yaml")
	assert.Error(t, err)
}
