package bus

import (
	"fmt"
	"strconv"
	"strings"
)

// Subject naming convention:
// - prices.ticks            inbound PriceTick frames, keyed by productId
// - fx.rates                inbound FxRate frames, keyed by pair
// - positions.updates       inbound PositionDelta frames, keyed by accountId
// - positions.eod           inbound PositionSnapshot frames
// - account.{id}.valuations outbound conflated Valuation batches
// - dlq.{topic}             dead letters for an inbound topic

// Inbound topics
const (
	SubjectPriceTicks      = "prices.ticks"
	SubjectFxRates         = "fx.rates"
	SubjectPositionUpdates = "positions.updates"
	SubjectPositionEOD     = "positions.eod"
)

// Stream names for JetStream
const (
	StreamPrices     = "PRICES"
	StreamFx         = "FX"
	StreamPositions  = "POSITIONS"
	StreamValuations = "VALUATIONS"
	StreamDLQ        = "DLQ"
)

// StreamForSubject returns the stream that owns an inbound topic
func StreamForSubject(subject string) (string, error) {
	switch subject {
	case SubjectPriceTicks:
		return StreamPrices, nil
	case SubjectFxRates:
		return StreamFx, nil
	case SubjectPositionUpdates, SubjectPositionEOD:
		return StreamPositions, nil
	default:
		return "", fmt.Errorf("no stream for subject %s", subject)
	}
}

// AccountSubject returns the per-account valuation topic
func AccountSubject(accountID int64) string {
	return fmt.Sprintf("account.%d.valuations", accountID)
}

// ParseAccountSubject extracts the account id from a valuation topic
func ParseAccountSubject(subject string) (int64, error) {
	parts := strings.Split(subject, ".")
	if len(parts) != 3 || parts[0] != "account" || parts[2] != "valuations" {
		return 0, fmt.Errorf("invalid account subject format: %s", subject)
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid account id in subject %s: %w", subject, err)
	}
	return id, nil
}

// DLQSubject returns the dead-letter topic for an inbound topic
func DLQSubject(topic string) string {
	return "dlq." + topic
}

// Durable returns the durable consumer name for a client and topic,
// e.g. rtve-0-prices.ticks. Each shard keeps its own cursor.
func Durable(clientID, subject string) string {
	return clientID + "-" + subject
}
