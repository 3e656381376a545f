package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()

	require.Greater(t, c.Len(), 20)

	in, ok := c.Lookup("revenueBenefit")
	require.True(t, ok)
	assert.Equal(t, "financial", in.Category)
	assert.Equal(t, "USD", in.Unit)

	_, ok = c.Lookup("notAnInput")
	assert.False(t, ok)
}

func TestListInputsByCategoryKeepsTableOrder(t *testing.T) {
	grouped := Default().ListInputsByCategory()

	financial := grouped["financial"]
	require.GreaterOrEqual(t, len(financial), 4)
	assert.Equal(t, []string{"revenueBenefit", "costBenefit", "cashFlowBenefit", "riskBenefit"},
		[]string{financial[0].Name, financial[1].Name, financial[2].Name, financial[3].Name})

	for category, inputs := range grouped {
		for _, in := range inputs {
			assert.Equal(t, category, in.Category)
		}
	}
}

func TestListInputsIsACopy(t *testing.T) {
	c := Default()
	inputs := c.ListInputs()
	delete(inputs, "revenueBenefit")

	_, ok := c.Lookup("revenueBenefit")
	assert.True(t, ok, "mutating ListInputs() result must not affect the catalog")
	assert.Len(t, c.ListInputs(), c.Len())
}

func TestCategories(t *testing.T) {
	cats := Default().Categories()
	assert.Contains(t, cats, "financial")
	assert.Contains(t, cats, "token_ai")
	assert.Contains(t, cats, "labor")
	assert.Contains(t, cats, "risk")
	assert.IsIncreasing(t, cats)
}

func TestLoadRejectsInvalidTables(t *testing.T) {
	testCases := []struct {
		name string
		yaml string
		want string
	}{
		{"Empty", "inputs: []", "at least one"},
		{"Bad identifier", "inputs:\n  - name: 9lives\n    category: risk\n", "identifier"},
		{"Reserved name", "inputs:\n  - name: max\n    category: risk\n", "reserved"},
		{"Missing category", "inputs:\n  - name: a\n", "no category"},
		{"Duplicate", "inputs:\n  - name: a\n    category: x\n  - name: a\n    category: y\n", "more than once"},
		{"Unknown field", "inputs:\n  - name: a\n    category: x\n    colour: red\n", "decode"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadFileDefaultsLabel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inputs.yaml")
	require.NoError(t, os.WriteFile(path, []byte("inputs:\n  - name: seats\n    category: licensing\n"), 0o600))

	c, err := LoadFile(path)
	require.NoError(t, err)

	in, ok := c.Lookup("seats")
	require.True(t, ok)
	assert.Equal(t, "seats", in.Label)
	assert.Equal(t, []string{"seats"}, c.Names())
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
