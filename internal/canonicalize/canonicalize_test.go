package canonicalize

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarshal_SortsKeys(t *testing.T) {
	input := map[string]string{"b": "2", "a": "1"}
	data, err := Marshal(input)
	require.NoError(t, err)
	require.JSONEq(t, `{"a":"1","b":"2"}`, string(data))
}

func TestMarshal_RejectsNaN(t *testing.T) {
	_, err := Marshal(map[string]float64{"val": math.NaN()})
	require.Error(t, err)
}

func TestMarshal_RejectsInf(t *testing.T) {
	_, err := Marshal(map[string]float64{"val": math.Inf(1)})
	require.Error(t, err)
}

func TestMarshal_Deterministic(t *testing.T) {
	input := map[string]int{"z": 3, "a": 1, "m": 2}
	first, err := Marshal(input)
	require.NoError(t, err)
	second, err := Marshal(input)
	require.NoError(t, err)
	require.Equal(t, string(first), string(second))
}

func TestHashHex_Deterministic(t *testing.T) {
	a := HashHex(map[string]int{"x": 1, "y": 2})
	b := HashHex(map[string]int{"y": 2, "x": 1})
	require.Equal(t, a, b)
	require.Len(t, a, 64)
}

func TestHashHex_FallsBackOnNaN(t *testing.T) {
	h := HashHex(map[string]float64{"val": math.NaN()})
	require.Len(t, h, 64)
}
