package scanner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQR(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		cardID  string
		holder  string
		raw     map[string]string
	}{
		{name: "bare id", payload: "  LAG001 ", cardID: "LAG001"},
		{name: "pairs", payload: "cardId=LAG002;holder=Ada Obi", cardID: "LAG002", holder: "Ada Obi", raw: map[string]string{"cardId": "LAG002", "holder": "Ada Obi"}},
		{name: "ampersand pairs", payload: "id=ABJ001&name=Bola&aid=A000", cardID: "ABJ001", holder: "Bola", raw: map[string]string{"id": "ABJ001", "name": "Bola", "aid": "A000"}},
		{name: "json", payload: `{"card_id":"LAG003","holderName":"Chi","expiry":2612}`, cardID: "LAG003", holder: "Chi", raw: map[string]string{"card_id": "LAG003", "holderName": "Chi", "expiry": "2612"}},
		{name: "json without id", payload: `{"holder":"Dayo"}`, holder: "Dayo", raw: map[string]string{"holder": "Dayo"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			read, err := ParseQR(tt.payload)
			require.NoError(t, err)
			assert.Equal(t, tt.cardID, read.CardID)
			assert.Equal(t, tt.holder, read.HolderName)
			assert.Equal(t, tt.raw, read.RawFields)
			assert.Equal(t, SourceQR, read.Source)
		})
	}
}

func TestParseQRRejectsBadInput(t *testing.T) {
	_, err := ParseQR("   ")
	assert.ErrorIs(t, err, ErrEmptyPayload)

	_, err = ParseQR(`{"card_id":`)
	assert.Error(t, err)
}
