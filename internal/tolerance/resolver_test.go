package tolerance

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleargate/reconengine/internal/model"
)

func TestWithinAbsolute(t *testing.T) {
	tol := Tolerance{Field: model.FieldPrice, Kind: Absolute, Value: decimal.NewFromFloat(0.01)}

	assert.True(t, tol.Within(decimal.NewFromFloat(50.00), decimal.NewFromFloat(50.004)))
	assert.True(t, tol.Within(decimal.NewFromFloat(50.00), decimal.NewFromFloat(50.01)))
	assert.False(t, tol.Within(decimal.NewFromFloat(50.00), decimal.NewFromFloat(50.011)))
	assert.True(t, tol.Within(decimal.NewFromFloat(50.004), decimal.NewFromFloat(50.00)), "symmetric")
}

func TestWithinPercentage(t *testing.T) {
	tol := Tolerance{Field: "balance", Kind: Percentage, Value: decimal.NewFromInt(1)}

	assert.True(t, tol.Within(decimal.NewFromInt(10000), decimal.NewFromInt(10100)))
	assert.False(t, tol.Within(decimal.NewFromInt(10000), decimal.NewFromInt(10101)))

	// Zero internal value only tolerates exact equality.
	assert.True(t, tol.Within(decimal.Zero, decimal.Zero))
	assert.False(t, tol.Within(decimal.Zero, decimal.NewFromFloat(0.01)))
}

func TestResolveFallsBackToDefaults(t *testing.T) {
	r := NewResolver()

	set := r.Resolve(model.ScopeTrade)
	price, ok := set[model.FieldPrice]
	require.True(t, ok)
	assert.True(t, price.Value.Equal(DefaultPriceTolerance))
}

func TestRegisterOverridesDefaults(t *testing.T) {
	r := NewResolver()
	r.Register(Profile{
		Scope: model.ScopeTrade,
		Tolerances: []Tolerance{
			{Field: model.FieldPrice, Kind: Absolute, Value: decimal.NewFromFloat(0.05)},
			{Field: model.FieldQuantity, Kind: Absolute, Value: decimal.NewFromInt(1)},
		},
	})

	set := r.Resolve(model.ScopeTrade)
	assert.True(t, set[model.FieldPrice].Value.Equal(decimal.NewFromFloat(0.05)))
	assert.True(t, set[model.FieldQuantity].Value.Equal(decimal.NewFromInt(1)))

	// Other scopes keep the defaults.
	other := r.Resolve(model.ScopePosition)
	assert.True(t, other[model.FieldPrice].Value.Equal(DefaultPriceTolerance))

	got, ok := r.For(model.ScopeTrade, model.FieldPrice)
	require.True(t, ok)
	assert.True(t, got.Value.Equal(decimal.NewFromFloat(0.05)))
}

func TestLoadProfilesFromYAML(t *testing.T) {
	doc := `
- scope: POSITION
  tolerances:
    - field: quantity
      kind: absolute
      value: "5"
    - field: market_value
      kind: percentage
      value: "0.5"
- scope: CASH
  tolerances:
    - field: balance
      kind: absolute
      value: "0.01"
`
	path := filepath.Join(t.TempDir(), "tolerances.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	r := NewResolver()
	require.NoError(t, r.LoadProfiles(path))

	pos := r.Resolve(model.ScopePosition)
	assert.True(t, pos[model.FieldQuantity].Value.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, Percentage, pos["market_value"].Kind)

	cash, ok := r.For(model.ScopeCash, "balance")
	require.True(t, ok)
	assert.True(t, cash.Value.Equal(decimal.NewFromFloat(0.01)))
}

func TestLoadProfilesRejectsBadValue(t *testing.T) {
	doc := `
- scope: CASH
  tolerances:
    - field: balance
      kind: absolute
      value: "not-a-number"
`
	path := filepath.Join(t.TempDir(), "tolerances.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	err := NewResolver().LoadProfiles(path)
	assert.Error(t, err)
}
