package rpc

import (
	"fmt"
	"net/url"
	"strings"
)

// wellKnown maps public HTTP hosts to their streaming endpoints.
var wellKnown = map[string]string{
	"api.mainnet-beta.solana.com": "wss://api.mainnet-beta.solana.com/",
	"api.devnet.solana.com":       "wss://api.devnet.solana.com/",
	"api.testnet.solana.com":      "wss://api.testnet.solana.com/",
}

// DeriveWSURL returns the WebSocket endpoint that pairs with an HTTP RPC URL.
// Public clusters map to their published endpoints, everything else swaps
// the scheme (https -> wss, http -> ws) and keeps host, path and query.
func DeriveWSURL(httpURL string) (string, error) {
	if httpURL == "" {
		httpURL = DefaultURL
	}

	u, err := url.Parse(httpURL)
	if err != nil {
		return "", fmt.Errorf("parse rpc url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("parse rpc url %q: missing host", httpURL)
	}

	if ws, ok := wellKnown[strings.ToLower(u.Hostname())]; ok {
		return ws, nil
	}

	switch strings.ToLower(u.Scheme) {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("parse rpc url %q: unsupported scheme %q", httpURL, u.Scheme)
	}
	return u.String(), nil
}
