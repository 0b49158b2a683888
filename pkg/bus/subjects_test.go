package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountSubjectRoundTrip(t *testing.T) {
	subject := AccountSubject(7)
	assert.Equal(t, "account.7.valuations", subject)

	id, err := ParseAccountSubject(subject)
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
}

func TestParseAccountSubjectRejectsMalformed(t *testing.T) {
	for _, subject := range []string{
		"account.7",
		"account.x.valuations",
		"orders.7.valuations",
		"account.7.valuations.extra",
	} {
		_, err := ParseAccountSubject(subject)
		assert.Error(t, err, subject)
	}
}

func TestStreamForSubject(t *testing.T) {
	tests := []struct {
		subject string
		stream  string
	}{
		{SubjectPriceTicks, StreamPrices},
		{SubjectFxRates, StreamFx},
		{SubjectPositionUpdates, StreamPositions},
		{SubjectPositionEOD, StreamPositions},
	}
	for _, tt := range tests {
		stream, err := StreamForSubject(tt.subject)
		require.NoError(t, err)
		assert.Equal(t, tt.stream, stream)
	}

	_, err := StreamForSubject("orders.create")
	assert.Error(t, err)
}

func TestDLQSubject(t *testing.T) {
	assert.Equal(t, "dlq.prices.ticks", DLQSubject(SubjectPriceTicks))
}

func TestDurable(t *testing.T) {
	assert.Equal(t, "rtve-0-prices.ticks", Durable("rtve-0", SubjectPriceTicks))
}
