package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"oddsharvest/models"
)

// quoteNamespace scopes UUIDv5 quote ids to this crawler
var quoteNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("oddsharvest/quotes"))

// MarketFingerprint is a short stable hash of a market key, used for cache keys and event keys
func MarketFingerprint(key models.MarketKey) string {
	input := fmt.Sprintf("%s|%d|%d|%t|%s",
		key.FixtureID,
		key.BetType,
		key.Scope,
		key.IsBack,
		NormalizeAttribute(key.AttributeText),
	)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:16])
}

// QuoteID is deterministic for (market, bookmaker, slot) so re-crawls address the same quote
func QuoteID(key models.MarketKey, bookmakerID string, slot int) string {
	name := fmt.Sprintf("%s|%s|%d", key.String(), bookmakerID, slot)
	return uuid.NewSHA1(quoteNamespace, []byte(name)).String()
}

// TickID collapses re-ingested history points onto one document
func TickID(quoteID string, date time.Time) string {
	return fmt.Sprintf("%s:%d", quoteID, date.Unix())
}

// NormalizeAttribute strips whitespace and a leading plus sign so "+0.5" and "0.5" key the same line
func NormalizeAttribute(text string) string {
	text = strings.ReplaceAll(strings.TrimSpace(text), " ", "")
	return strings.TrimPrefix(text, "+")
}
