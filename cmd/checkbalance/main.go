// checkbalance is a read-only inspector: it prints the USDC balance, the
// allowance toward both CTF exchange contracts, and the ERC-1155 operator
// approval for the signer wallet and (when configured) the funder wallet.
// It only issues eth_call — no gas is spent and nothing is sent on-chain.
//
// Usage:
//
//	PRIVATE_KEY=... go run ./cmd/checkbalance
//
// Optional: POLYGON_RPC_URL (defaults to public Polygon RPCs), FUNDER_ADDRESS.
package main

import (
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-resty/resty/v2"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	usdcPolygon            = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"
	ctfPolygon             = "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045"
	exchangeAddressPolygon = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
	negRiskExchangePolygon = "0xC5d563A36AE78145C45a50134d48A1215220f80a"

	defaultPolygonRPC  = "https://polygon-rpc.com"
	fallbackPolygonRPC = "https://rpc.ankr.com/polygon"

	selectorBalanceOf        = "70a08231" // balanceOf(address)
	selectorAllowance        = "dd62ed3e" // allowance(address,address)
	selectorIsApprovedForAll = "e985e9c5" // isApprovedForAll(address,address)
)

var usdcFactor = decimal.New(1, 6)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

type rpcResponse struct {
	Result string          `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func main() {
	godotenv.Load()

	pk := os.Getenv("PRIVATE_KEY")
	if pk == "" {
		pk = os.Getenv("POLYMARKET_PRIVATE_KEY")
	}
	if pk == "" {
		fmt.Fprintln(os.Stderr, "PRIVATE_KEY (or POLYMARKET_PRIVATE_KEY) is required")
		os.Exit(1)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(pk), "0x"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid private key:", err)
		os.Exit(1)
	}
	eoa := crypto.PubkeyToAddress(key.PublicKey)

	wallets := []struct {
		label string
		addr  common.Address
	}{{"EOA (signer)", eoa}}
	if funder := os.Getenv("FUNDER_ADDRESS"); funder != "" {
		wallets = append(wallets, struct {
			label string
			addr  common.Address
		}{"Funder", common.HexToAddress(funder)})
	}

	client := resty.New().SetTimeout(15 * time.Second)
	for _, w := range wallets {
		fmt.Printf("— %s %s\n", w.label, w.addr.Hex())
		balance, err := ethCallUint(client, usdcPolygon, selectorBalanceOf, w.addr)
		if err != nil {
			fmt.Println("   USDC balance:   error:", err)
		} else {
			fmt.Printf("   USDC balance:   %s\n", decimal.NewFromBigInt(balance, 0).Div(usdcFactor))
		}
		for _, ex := range []struct {
			label, addr string
		}{
			{"CTF Exchange", exchangeAddressPolygon},
			{"Neg-risk Exchange", negRiskExchangePolygon},
		} {
			allowance, err := ethCallUint(client, usdcPolygon, selectorAllowance, w.addr, common.HexToAddress(ex.addr))
			if err != nil {
				fmt.Printf("   USDC allowance → %s: error: %v\n", ex.label, err)
				continue
			}
			fmt.Printf("   USDC allowance → %s: %s\n", ex.label, decimal.NewFromBigInt(allowance, 0).Div(usdcFactor))

			approved, err := ethCallUint(client, ctfPolygon, selectorIsApprovedForAll, w.addr, common.HexToAddress(ex.addr))
			if err != nil {
				fmt.Printf("   CTF approval  → %s: error: %v\n", ex.label, err)
				continue
			}
			fmt.Printf("   CTF approval  → %s: %v\n", ex.label, approved.Sign() != 0)
		}
	}
}

// ethCallUint issues eth_call with the selector and address args ABI-encoded,
// trying each URL from rpcURLs in turn: POLYGON_RPC_URL alone when it is set,
// otherwise the default public RPC and then the public fallback.
func ethCallUint(client *resty.Client, contract, selector string, args ...common.Address) (*big.Int, error) {
	data := "0x" + selector
	for _, a := range args {
		data += fmt.Sprintf("%064s", strings.ToLower(strings.TrimPrefix(a.Hex(), "0x")))
	}

	var lastErr error
	for _, url := range rpcURLs() {
		var out rpcResponse
		_, err := client.R().
			SetBody(rpcRequest{
				JSONRPC: "2.0",
				Method:  "eth_call",
				Params:  []any{map[string]string{"to": contract, "data": data}, "latest"},
				ID:      1,
			}).
			SetResult(&out).
			Post(url)
		if err != nil {
			lastErr = err
			continue
		}
		if out.Error != nil {
			lastErr = fmt.Errorf("rpc: %s", out.Error.Message)
			continue
		}
		result := strings.TrimPrefix(strings.TrimSpace(out.Result), "0x")
		if result == "" {
			lastErr = fmt.Errorf("empty eth_call result")
			continue
		}
		n, ok := new(big.Int).SetString(result, 16)
		if !ok {
			lastErr = fmt.Errorf("bad eth_call result %q", out.Result)
			continue
		}
		return n, nil
	}
	return nil, lastErr
}

func rpcURLs() []string {
	if url := strings.TrimSpace(os.Getenv("POLYGON_RPC_URL")); url != "" {
		return []string{url}
	}
	return []string{defaultPolygonRPC, fallbackPolygonRPC}
}
