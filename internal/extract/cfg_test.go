package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCfg_Eval(t *testing.T) {
	env := NewCfgEnv(NewFeatureSet("std", "alloc"), []string{"rust_v_1_46", `target_os="linux"`})

	tests := []struct {
		src  string
		want bool
	}{
		{`feature = "std"`, true},
		{`feature = "serde"`, false},
		{`not(feature = "std")`, false},
		{`all(feature = "std", feature = "alloc")`, true},
		{`all(feature = "std", feature = "serde")`, false},
		{`any(feature = "serde", feature = "alloc")`, true},
		{`any()`, false},
		{`all()`, true},
		{`rust_v_1_46`, true},
		{`test`, false},
		{`target_os = "linux"`, true},
		{`target_os = "windows"`, false},
		{`all(not(feature = "serde"), any(rust_v_1_46, test))`, true},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			expr, err := ParseCfg(tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.want, expr.Eval(env))
		})
	}
}

func TestParseCfg_Errors(t *testing.T) {
	for _, src := range []string{
		``,
		`feature =`,
		`feature = "std`,
		`all(feature = "std"`,
		`not(a, b)`,
		`frobnicate(a)`,
		`feature = "std" extra`,
	} {
		t.Run(src, func(t *testing.T) {
			_, err := ParseCfg(src)
			assert.Error(t, err)
		})
	}
}

func TestCfgExpr_GatingFeatures(t *testing.T) {
	expr, err := ParseCfg(`all(feature = "std", any(feature = "serde", test), not(feature = "no-alloc"))`)
	require.NoError(t, err)
	assert.Equal(t, []string{"serde", "std"}, expr.GatingFeatures())

	expr, err = ParseCfg(`not(not(feature = "std"))`)
	require.NoError(t, err)
	assert.Equal(t, []string{"std"}, expr.GatingFeatures())
}

func TestSplitTopLevel(t *testing.T) {
	assert.Equal(t,
		[]string{`feature = "std"`, `derive(Debug, Clone)`},
		splitTopLevel(`feature = "std", derive(Debug, Clone)`))
	assert.Equal(t,
		[]string{`Hash`, `HashMap<K, V>`, `"a,b"`},
		splitTopLevel(`Hash, HashMap<K, V>, "a,b"`))
	assert.Nil(t, splitTopLevel(`  `))
}
