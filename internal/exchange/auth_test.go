package exchange

import (
	"encoding/base64"
	"math/big"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"interval-sniper/internal/config"
	"interval-sniper/pkg/types"
)

const testPrivateKey = "0x0123456789012345678901234567890123456789012345678901234567890123"

func newTestAuth(t *testing.T) *Auth {
	t.Helper()
	cfg := &config.Config{
		PrivateKey:    testPrivateKey,
		ApiKey:        "key",
		Secret:        base64.URLEncoding.EncodeToString([]byte("super-secret")),
		Passphrase:    "pass",
		ChainID:       137,
		SignatureType: 0,
	}
	auth, err := NewAuth(cfg)
	require.NoError(t, err)
	return auth
}

func TestNewAuthDerivesAddress(t *testing.T) {
	auth := newTestAuth(t)

	assert.NotEqual(t, "0x0000000000000000000000000000000000000000", auth.Address().Hex())
	// No funder configured → funder defaults to the signer.
	assert.Equal(t, auth.Address(), auth.FunderAddress())
}

func TestOrderAmountsBuy(t *testing.T) {
	t.Parallel()

	maker, taker := orderAmounts(types.BUY, decimal.RequireFromString("0.94"), decimal.RequireFromString("5"))
	// BUY: maker = 5 * 0.94 USDC = 4.70 → 4700000; taker = 5 shares → 5000000.
	assert.Equal(t, big.NewInt(4_700_000), maker)
	assert.Equal(t, big.NewInt(5_000_000), taker)
}

func TestOrderAmountsSellSwapsLegs(t *testing.T) {
	t.Parallel()

	maker, taker := orderAmounts(types.SELL, decimal.RequireFromString("0.97"), decimal.RequireFromString("3"))
	assert.Equal(t, big.NewInt(3_000_000), maker)
	assert.Equal(t, big.NewInt(2_910_000), taker)
}

func TestOrderAmountsTruncate(t *testing.T) {
	t.Parallel()

	// 0.0001 shares at 0.93 = 0.000093 USDC = 93 base units exactly; a dust
	// quantity below 1e-6 must truncate to zero, not round up.
	maker, _ := orderAmounts(types.BUY, decimal.RequireFromString("0.93"), decimal.RequireFromString("0.0000005"))
	assert.Equal(t, int64(0), maker.Int64())
}

func TestParseTokenID(t *testing.T) {
	t.Parallel()

	n, err := parseTokenID("123456789012345678901234567890")
	require.NoError(t, err)
	assert.Equal(t, "123456789012345678901234567890", n.String())

	n, err = parseTokenID("0xff")
	require.NoError(t, err)
	assert.Equal(t, int64(255), n.Int64())

	_, err = parseTokenID("not-a-number")
	assert.Error(t, err)
}

func TestSignOrderProducesStableHexSignature(t *testing.T) {
	auth := newTestAuth(t)

	sig, err := auth.SignOrder(1700000000000, "123456", big.NewInt(4_700_000), big.NewInt(5_000_000), 0, 1000, types.BUY)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(sig, "0x"))
	// 65 signature bytes hex-encoded.
	assert.Len(t, sig, 2+130)

	// Same inputs, same digest, same signature.
	again, err := auth.SignOrder(1700000000000, "123456", big.NewInt(4_700_000), big.NewInt(5_000_000), 0, 1000, types.BUY)
	require.NoError(t, err)
	assert.Equal(t, sig, again)

	// Changing the side changes the struct hash.
	other, err := auth.SignOrder(1700000000000, "123456", big.NewInt(4_700_000), big.NewInt(5_000_000), 0, 1000, types.SELL)
	require.NoError(t, err)
	assert.NotEqual(t, sig, other)
}

func TestL2HeadersShape(t *testing.T) {
	auth := newTestAuth(t)

	headers, err := auth.L2Headers(1700000000, "POST", "/order", `{"x":1}`)
	require.NoError(t, err)

	assert.Equal(t, "key", headers["POLY_API_KEY"])
	assert.Equal(t, "pass", headers["POLY_PASSPHRASE"])
	assert.Equal(t, "1700000000", headers["POLY_TIMESTAMP"])
	assert.NotEmpty(t, headers["POLY_SIGNATURE"])
	assert.NotEmpty(t, headers["POLY_ADDRESS"])
}

func TestBuildPolyHMACIsURLSafe(t *testing.T) {
	t.Parallel()

	secret := base64.URLEncoding.EncodeToString([]byte("another-secret"))
	sig, err := buildPolyHMAC(secret, 1700000000, "GET", "/balance-allowance", "")
	require.NoError(t, err)

	assert.NotContains(t, sig, "+")
	assert.NotContains(t, sig, "/")

	// Body participates in the message.
	withBody, err := buildPolyHMAC(secret, 1700000000, "GET", "/balance-allowance", "x")
	require.NoError(t, err)
	assert.NotEqual(t, sig, withBody)
}
