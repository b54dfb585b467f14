// Package rpc provides the JSON-RPC HTTP client for the upstream node.
//
// Only the calls the watcher needs are implemented:
//   - getTransaction (jsonParsed), used to resolve the signer of a notified transaction
//   - getHealth, used by the health endpoint
//
// Well-known endpoints:
//   - Mainnet: https://api.mainnet-beta.solana.com
//   - Devnet:  https://api.devnet.solana.com
//   - Testnet: https://api.testnet.solana.com
package rpc
