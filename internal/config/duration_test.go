package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDuration_YAML(t *testing.T) {
	type doc struct {
		Interval Duration `yaml:"interval"`
	}

	t.Run("string form", func(t *testing.T) {
		var d doc
		require.NoError(t, yaml.Unmarshal([]byte("interval: 1m30s\n"), &d))
		require.Equal(t, 90*time.Second, d.Interval.Duration())
	})

	t.Run("numeric nanoseconds", func(t *testing.T) {
		var d doc
		require.NoError(t, yaml.Unmarshal([]byte("interval: 5000000000\n"), &d))
		require.Equal(t, 5*time.Second, d.Interval.Duration())
	})

	t.Run("garbage rejected", func(t *testing.T) {
		var d doc
		require.Error(t, yaml.Unmarshal([]byte("interval: shortly\n"), &d))
	})

	t.Run("round trip", func(t *testing.T) {
		out, err := yaml.Marshal(doc{Interval: Duration(45 * time.Second)})
		require.NoError(t, err)
		require.Contains(t, string(out), "45s")

		var d doc
		require.NoError(t, yaml.Unmarshal(out, &d))
		require.Equal(t, 45*time.Second, d.Interval.Duration())
	})
}
