package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// Errors
var (
	ErrNotFound = errors.New("not found")
	ErrNoSigner = errors.New("transaction has no signer")
)

// Transaction is the subset of a jsonParsed getTransaction result the
// watcher uses.
type Transaction struct {
	Signature   string
	Slot        uint64
	BlockTime   int64    // Unix seconds, 0 when unknown
	Fee         uint64   // Lamports
	Failed      bool     // meta.err was non-null
	AccountKeys []string // In message order
	Signers     []string // Signing accounts, fee payer first
}

// GetTransaction fetches a confirmed transaction. ErrNotFound is returned
// when the node does not (yet) know the signature.
func (c *Client) GetTransaction(ctx context.Context, signature string) (*Transaction, error) {
	params := []interface{}{
		signature,
		map[string]interface{}{
			"encoding":                       "jsonParsed",
			"maxSupportedTransactionVersion": 0,
			"commitment":                     c.commitment,
		},
	}

	var raw json.RawMessage
	if err := c.call(ctx, "getTransaction", params, &raw); err != nil {
		return nil, fmt.Errorf("getTransaction %s: %w", signature, err)
	}

	return parseTransaction(signature, raw), nil
}

func parseTransaction(signature string, raw []byte) *Transaction {
	res := gjson.ParseBytes(raw)
	tx := &Transaction{
		Signature: signature,
		Slot:      res.Get("slot").Uint(),
		BlockTime: res.Get("blockTime").Int(),
		Fee:       res.Get("meta.fee").Uint(),
	}
	if e := res.Get("meta.err"); e.Exists() && e.Type != gjson.Null {
		tx.Failed = true
	}

	res.Get("transaction.message.accountKeys").ForEach(func(_, key gjson.Result) bool {
		// jsonParsed keys are objects; legacy encodings are bare strings.
		if key.IsObject() {
			pubkey := key.Get("pubkey").String()
			tx.AccountKeys = append(tx.AccountKeys, pubkey)
			if key.Get("signer").Bool() {
				tx.Signers = append(tx.Signers, pubkey)
			}
			return true
		}
		tx.AccountKeys = append(tx.AccountKeys, key.String())
		return true
	})

	// Legacy encodings carry no signer flags; the first
	// header.numRequiredSignatures keys sign.
	if len(tx.Signers) == 0 {
		n := int(res.Get("transaction.message.header.numRequiredSignatures").Int())
		for i := 0; i < n && i < len(tx.AccountKeys); i++ {
			tx.Signers = append(tx.Signers, tx.AccountKeys[i])
		}
	}

	return tx
}

// SignerOf returns the fee payer of the transaction.
func (c *Client) SignerOf(ctx context.Context, signature string) (string, error) {
	tx, err := c.GetTransaction(ctx, signature)
	if err != nil {
		return "", err
	}
	if len(tx.Signers) == 0 {
		return "", fmt.Errorf("%s: %w", signature, ErrNoSigner)
	}
	return tx.Signers[0], nil
}

// Health calls getHealth and returns nil when the node reports "ok".
func (c *Client) Health(ctx context.Context) error {
	var status string
	if err := c.call(ctx, "getHealth", nil, &status); err != nil {
		return fmt.Errorf("getHealth: %w", err)
	}
	if status != "ok" {
		return fmt.Errorf("getHealth: node reports %q", status)
	}
	return nil
}
