package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bottleops/bottleops/internal/pricing"
)

const catalogYAML = `
products:
  - code: BTL-100
    name: Amber 100ml
    pack_size: 12
    kit_price: 11.00
    piece_price: 1.20
    tiers:
      - {min: 1, max: 9, price: 10.00}
      - {min: 10, max: 49, price: 9.00}
      - {min: 60, price: 8.00}
`

func writeCatalog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalogYAML), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestPriceCommandJSON(t *testing.T) {
	path := writeCatalog(t)
	out, err := run(t, "--format", "json", "price", "--file", path, "--product", "BTL-100", "--qty", "10")
	require.NoError(t, err)

	var got quoteOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, pricing.Money(900), got.UnitPrice)
	assert.Equal(t, 120, got.BottleQty)
	assert.Equal(t, pricing.Money(9000), got.Subtotal)
	assert.False(t, got.Fallback)
}

func TestPriceCommandWarnsOnTierGap(t *testing.T) {
	path := writeCatalog(t)
	out, err := run(t, "price", "--file", path, "--product", "BTL-100", "--qty", "55")
	require.NoError(t, err)
	assert.Contains(t, out, "tier gap")
}

func TestPriceCommandUnknownProduct(t *testing.T) {
	path := writeCatalog(t)
	_, err := run(t, "price", "--file", path, "--product", "NOPE")
	require.ErrorIs(t, err, pricing.ErrProductNotFound)
}

func TestCatalogValidate(t *testing.T) {
	path := writeCatalog(t)
	out, err := run(t, "catalog", "validate", "--file", path)
	require.NoError(t, err)
	assert.Contains(t, out, "BTL-100")
	assert.Contains(t, out, "11.00")

	_, err = run(t, "--format", "yaml", "catalog", "validate", "--file", path)
	require.Error(t, err)
}

func TestCatalogImportRequiresDSN(t *testing.T) {
	t.Setenv("PG_DSN", "")
	path := writeCatalog(t)
	_, err := run(t, "catalog", "import", "--file", path, "--dsn", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PG_DSN")
}
