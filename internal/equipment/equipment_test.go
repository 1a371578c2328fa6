package equipment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinibressanini/idab-processor/internal/config"
	"github.com/vinibressanini/idab-processor/internal/rules"
)

func testSpec() config.EquipmentSpec {
	return config.EquipmentSpec{
		Code:     "E1",
		Metadata: map[string]string{"line": "mash-tun"},
		Tags: []config.TagSpec{
			{Name: "Pressao", PLCAddress: "100", Type: "float"},
		},
		EventRules: []config.RuleSpec{
			{Name: "R1", Expression: "Pressao < 2.0", RoutingKey: "rk1"},
		},
	}
}

func TestNewBuildsRulesFromSpec(t *testing.T) {
	cache := rules.NewCache()
	eq, err := New("E1", testSpec(), cache)
	require.NoError(t, err)
	require.Len(t, eq.Rules, 1)
	assert.Equal(t, "R1", eq.Rules[0].Name)
	assert.False(t, eq.Rules[0].State)
	assert.False(t, eq.HasReadings())
}

func TestNewRejectsUnknownOutputTag(t *testing.T) {
	spec := testSpec()
	spec.EventRules[0].Output = "DoesNotExist"
	_, err := New("E1", spec, rules.NewCache())
	require.Error(t, err)
}

func TestUpdateValuesMergesPartialReadings(t *testing.T) {
	eq, err := New("E1", testSpec(), rules.NewCache())
	require.NoError(t, err)

	eq.UpdateValues(rules.SymbolTable{"Pressao": rules.NumberValue(3.0)})
	assert.True(t, eq.HasReadings())
	assert.Equal(t, 3.0, eq.Symtable["Pressao"].Num)

	// A second, unrelated tag update must not erase Pressao.
	eq.UpdateValues(rules.SymbolTable{"Other": rules.NumberValue(1.0)})
	assert.Equal(t, 3.0, eq.Symtable["Pressao"].Num)
	assert.Equal(t, 1.0, eq.Symtable["Other"].Num)
}

func TestCacheSharedAcrossEquipments(t *testing.T) {
	cache := rules.NewCache()
	eq1, err := New("E1", testSpec(), cache)
	require.NoError(t, err)
	eq2, err := New("E2", testSpec(), cache)
	require.NoError(t, err)
	assert.Same(t, eq1.Rules[0].Expression, eq2.Rules[0].Expression)
}
