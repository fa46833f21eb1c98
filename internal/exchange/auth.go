package exchange

import (
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/shopspring/decimal"

	"interval-sniper/internal/config"
	"interval-sniper/pkg/types"
)

// CTF Exchange contracts on Polygon. The neg-risk variant handles
// multi-outcome markets; which one verifies the order signature depends on
// the market's neg-risk flag.
const (
	ExchangeAddressPolygon = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
	NegRiskExchangePolygon = "0xC5d563A36AE78145C45a50134d48A1215220f80a"
)

const (
	protocolName    = "Polymarket CTF Exchange"
	protocolVersion = "1"
)

// sixDecimals scales human prices/sizes to USDC base units.
var sixDecimals = decimal.New(1, 6)

// Credentials is the L2 API key triplet used for HMAC-signed requests.
type Credentials struct {
	ApiKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// Auth handles the two signing layers the CLOB requires:
//
//   - EIP-712 over the Order struct, verified on-chain by the CTF Exchange
//     contract. Signed with the wallet's private key.
//
//   - L2 (HMAC-SHA256) request auth: signs "timestamp + method + path [+ body]"
//     with the API secret, sent in POLY_* headers.
//
// The funder address may differ from the signer when a proxy or Safe wallet
// holds the funds.
type Auth struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	funder     common.Address
	chainID    *big.Int
	sigType    types.SignatureType
	verifying  common.Address
	creds      Credentials
}

// NewAuth creates an Auth instance from config.
func NewAuth(cfg *config.Config) (*Auth, error) {
	keyHex := cfg.PrivateKey
	if len(keyHex) >= 2 && keyHex[:2] == "0x" {
		keyHex = keyHex[2:]
	}
	privateKey, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	address := crypto.PubkeyToAddress(privateKey.PublicKey)
	funder := address
	if cfg.FunderAddress != "" {
		funder = common.HexToAddress(cfg.FunderAddress)
	}

	verifying := common.HexToAddress(ExchangeAddressPolygon)
	if cfg.NegRisk {
		verifying = common.HexToAddress(NegRiskExchangePolygon)
	}

	return &Auth{
		privateKey: privateKey,
		address:    address,
		funder:     funder,
		chainID:    big.NewInt(int64(cfg.ChainID)),
		sigType:    types.SignatureType(cfg.SignatureType),
		verifying:  verifying,
		creds: Credentials{
			ApiKey:     cfg.ApiKey,
			Secret:     cfg.Secret,
			Passphrase: cfg.Passphrase,
		},
	}, nil
}

// Address returns the signer's Ethereum address.
func (a *Auth) Address() common.Address { return a.address }

// FunderAddress returns the funder/proxy wallet address.
func (a *Auth) FunderAddress() common.Address { return a.funder }

// SignatureType returns the configured signature scheme.
func (a *Auth) SignatureType() types.SignatureType { return a.sigType }

// L2Headers generates POLY_* headers for HMAC-authenticated endpoints.
// For GET requests pass an empty body.
func (a *Auth) L2Headers(timestamp int64, method, path, body string) (map[string]string, error) {
	sig, err := buildPolyHMAC(a.creds.Secret, timestamp, method, path, body)
	if err != nil {
		return nil, fmt.Errorf("build hmac: %w", err)
	}
	return map[string]string{
		"POLY_ADDRESS":    a.address.Hex(),
		"POLY_SIGNATURE":  sig,
		"POLY_TIMESTAMP":  strconv.FormatInt(timestamp, 10),
		"POLY_API_KEY":    a.creds.ApiKey,
		"POLY_PASSPHRASE": a.creds.Passphrase,
	}, nil
}

// orderAmounts converts a human price and size to makerAmount/takerAmount in
// 6-decimal base units, truncating so an encoded order never exceeds the
// balance backing it.
//
// For BUY:  maker gives size*price USDC, receives size tokens.
// For SELL: maker gives size tokens, receives size*price USDC.
func orderAmounts(side types.Side, price, size decimal.Decimal) (makerAmt, takerAmt *big.Int) {
	cost := size.Mul(price)
	var maker, taker decimal.Decimal
	if side == types.BUY {
		maker, taker = cost, size
	} else {
		maker, taker = size, cost
	}
	makerAmt = maker.Mul(sixDecimals).Truncate(0).BigInt()
	takerAmt = taker.Mul(sixDecimals).Truncate(0).BigInt()
	return makerAmt, takerAmt
}

// parseTokenID parses a token identifier (decimal string or 0x-hex) to a big.Int.
func parseTokenID(tokenID string) (*big.Int, error) {
	s := tokenID
	base := 10
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s, base = s[2:], 16
	}
	n, ok := new(big.Int).SetString(s, base)
	if !ok {
		return nil, fmt.Errorf("invalid token ID %q", tokenID)
	}
	return n, nil
}

// SignOrder signs the CTF Exchange Order struct and returns the 65-byte
// signature as 0x-prefixed hex.
func (a *Auth) SignOrder(salt int64, tokenID string, makerAmt, takerAmt *big.Int, expiration int64, feeRateBps int64, side types.Side) (string, error) {
	token, err := parseTokenID(tokenID)
	if err != nil {
		return "", err
	}
	sideNum := 0
	if side == types.SELL {
		sideNum = 1
	}

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Order": {
				{Name: "salt", Type: "uint256"},
				{Name: "maker", Type: "address"},
				{Name: "signer", Type: "address"},
				{Name: "taker", Type: "address"},
				{Name: "tokenId", Type: "uint256"},
				{Name: "makerAmount", Type: "uint256"},
				{Name: "takerAmount", Type: "uint256"},
				{Name: "expiration", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "feeRateBps", Type: "uint256"},
				{Name: "side", Type: "uint8"},
				{Name: "signatureType", Type: "uint8"},
			},
		},
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              protocolName,
			Version:           protocolVersion,
			ChainId:           (*ethmath.HexOrDecimal256)(new(big.Int).Set(a.chainID)),
			VerifyingContract: a.verifying.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"salt":          strconv.FormatInt(salt, 10),
			"maker":         a.funder.Hex(),
			"signer":        a.address.Hex(),
			"taker":         "0x0000000000000000000000000000000000000000",
			"tokenId":       token.String(),
			"makerAmount":   makerAmt.String(),
			"takerAmount":   takerAmt.String(),
			"expiration":    strconv.FormatInt(expiration, 10),
			"nonce":         "0",
			"feeRateBps":    strconv.FormatInt(feeRateBps, 10),
			"side":          strconv.Itoa(sideNum),
			"signatureType": strconv.Itoa(int(a.sigType)),
		},
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return "", fmt.Errorf("typed data hash: %w", err)
	}
	sig, err := crypto.Sign(hash, a.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign order: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + common.Bytes2Hex(sig), nil
}

// buildPolyHMAC computes the L2 request signature:
// base64url(HMAC_SHA256(base64decode(secret), timestamp + method + path + body)).
func buildPolyHMAC(secret string, timestamp int64, method, path, body string) (string, error) {
	decoders := []*base64.Encoding{
		base64.URLEncoding,
		base64.RawURLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	}
	var secretBytes []byte
	var err error
	for _, dec := range decoders {
		secretBytes, err = dec.DecodeString(secret)
		if err == nil {
			break
		}
	}
	if err != nil {
		return "", fmt.Errorf("decode secret: %w", err)
	}

	message := strconv.FormatInt(timestamp, 10) + method + path + body
	mac := hmac.New(sha256.New, secretBytes)
	mac.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil)), nil
}
