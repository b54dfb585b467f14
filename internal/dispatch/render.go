package dispatch

import (
	"strings"

	"github.com/rickgao/wallet-watch/internal/model"
)

// DefaultExplorerURL prefixes the transaction signature in rendered messages.
const DefaultExplorerURL = "https://solscan.io/tx/"

// DefaultMaxLogLines is the number of program log lines included in a message.
const DefaultMaxLogLines = 3

// Render builds the message text for a transaction event.
func Render(ev model.TransactionEvent, explorerURL string, maxLogLines int) string {
	if explorerURL == "" {
		explorerURL = DefaultExplorerURL
	}

	var b strings.Builder
	b.WriteString("🔔 Transaction Alert!\n\n")
	b.WriteString("📍 Wallet: " + ev.Address + "\n")
	b.WriteString("🔗 Signature: " + ev.Signature + "\n")
	if ev.Failed {
		b.WriteString("❌ Status: Failed\n")
	}
	b.WriteString("📊 View on Solscan: " + explorerURL + ev.Signature + "\n")

	if maxLogLines <= 0 {
		return b.String()
	}

	b.WriteString("\n📋 Logs:\n")
	n := len(ev.Logs)
	if n > maxLogLines {
		n = maxLogLines
	}
	b.WriteString(strings.Join(ev.Logs[:n], "\n"))
	if len(ev.Logs) > maxLogLines {
		b.WriteString("\n...")
	}

	return b.String()
}
