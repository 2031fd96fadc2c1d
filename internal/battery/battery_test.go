package battery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"falldetect-service/internal/models"
)

func TestReported(t *testing.T) {
	r := NewReported(100)
	require.Equal(t, 100, r.Percentage())
	require.False(t, r.IsCharging())

	r.Update(models.BatteryReport{Percentage: 12, Charging: true})
	require.Equal(t, 12, r.Percentage())
	require.True(t, r.IsCharging())
}

func TestSysfsReadsPowerSupply(t *testing.T) {
	dir := t.TempDir()
	write := func(name, value string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(value), 0o644))
	}
	write("capacity", "57\n")
	write("status", "Discharging\n")

	s := NewSysfs(dir, nil)
	require.Equal(t, 57, s.Percentage())
	require.False(t, s.IsCharging())

	write("status", "Charging\n")
	require.True(t, s.IsCharging())
}

func TestSysfsKeepsLastKnownValue(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "capacity"), []byte("33"), 0o644))

	s := NewSysfs(dir, nil)
	require.Equal(t, 33, s.Percentage())

	require.NoError(t, os.Remove(filepath.Join(dir, "capacity")))
	require.Equal(t, 33, s.Percentage())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "capacity"), []byte(""), 0o644))
	require.Equal(t, 33, s.Percentage())
	require.False(t, s.IsCharging(), "missing status file keeps the default")
}

func TestStatic(t *testing.T) {
	s := Static{Percent: 18, Charging: true}
	require.Equal(t, 18, s.Percentage())
	require.True(t, s.IsCharging())
}
