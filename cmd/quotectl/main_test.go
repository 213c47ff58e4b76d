package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBasket = `clinicId: clinic-1
treatments:
  - id: zirconia-crown
    quantity: 2
  - id: whitening
offer: spring-ten
promoCode: save20
promoCodes:
  - code: SAVE20
    discountType: percentage
    discountValue: 20
patient:
  name: Ana Ruiz
  email: ana@example.com
  phone: "+34 600 123 456"
  country: ES
`

func writeBasket(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "basket.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestPriceCommandJSON(t *testing.T) {
	code, out, errOut := runCLI(t, "price", writeBasket(t, testBasket), "--json")
	require.Equal(t, 0, code, errOut)

	var totals totalsJSON
	require.NoError(t, json.Unmarshal([]byte(out), &totals))
	assert.Equal(t, "USD", totals.Currency)
	assert.Equal(t, int64(89000), totals.Subtotal)
	assert.Equal(t, int64(8900), totals.OfferDiscount)
	assert.Equal(t, int64(17800), totals.PromoDiscount)
	assert.Equal(t, int64(62300), totals.Total)
}

func TestPriceCommandTable(t *testing.T) {
	code, out, errOut := runCLI(t, "price", writeBasket(t, testBasket))
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Zirconia crown")
	assert.Contains(t, out, "USD 640.00")
	assert.Contains(t, out, "USD 623.00")
}

func TestPriceCommandRejectsUnknownPromo(t *testing.T) {
	basket := strings.Replace(testBasket, "promoCode: save20", "promoCode: nope", 1)
	code, _, errOut := runCLI(t, "price", writeBasket(t, basket))
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "price basket")
}

func TestPriceCommandMissingBasket(t *testing.T) {
	code, _, errOut := runCLI(t, "price", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "read basket")
}

func TestFlowCommandSubmits(t *testing.T) {
	code, out, errOut := runCLI(t, "flow", writeBasket(t, testBasket), "--submit")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "-> treatment-selection (1/5)")
	assert.Contains(t, out, "promo SAVE20: applied")
	assert.Contains(t, out, "-> review (4/5)")
	assert.Contains(t, out, "reference SQ-")
}

func TestFlowCommandStopsAtReview(t *testing.T) {
	code, out, errOut := runCLI(t, "flow", writeBasket(t, testBasket))
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "-> review (4/5)")
	assert.NotContains(t, out, "submitted quote")
}

func TestCatalogShow(t *testing.T) {
	code, out, errOut := runCLI(t, "catalog", "show")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "zirconia-crown")
	assert.Contains(t, out, "USD 320.00")
	assert.Contains(t, out, "hollywood-smile")
	assert.Contains(t, out, "10%")
}

func TestCatalogSeedRequiresProject(t *testing.T) {
	code, _, errOut := runCLI(t, "catalog", "seed")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "--project is required")
}
