package order

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeAction(t *testing.T) {
	tests := []struct {
		action Action
		want   string
	}{
		{Apply{OrderID: 7}, "apply:7"},
		{Approve{OrderID: 7, ApplicationID: 3}, "approve:7:3"},
		{Reject{OrderID: 7, ApplicationID: 3}, "reject:7:3"},
		{Done{OrderID: 12}, "done:12"},
		{Cancel{OrderID: 1}, "cancel:1"},
		{Resync{OrderID: 99}, "resync:99"},
		{Publish{OrderID: 4}, "publish:4"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, EncodeAction(tt.action))
		})
	}
}

func TestParseAction_RoundTrip(t *testing.T) {
	ids := []int64{1, 9, 10, 1234567, math.MaxInt64}
	for _, id := range ids {
		actions := []Action{
			Apply{OrderID: id},
			Approve{OrderID: id, ApplicationID: id},
			Reject{OrderID: id, ApplicationID: 1},
			Done{OrderID: id},
			Cancel{OrderID: id},
			Resync{OrderID: id},
			Publish{OrderID: id},
		}
		for _, a := range actions {
			data := EncodeAction(a)
			assert.LessOrEqual(t, len(data), MaxActionDataLen)

			got, err := ParseAction(data)
			require.NoError(t, err, data)
			assert.Equal(t, a, got, data)
		}
	}
}

func TestParseAction_Rejects(t *testing.T) {
	bad := []string{
		"",
		"claim:1",
		"apply",
		"apply:",
		"apply:0",
		"apply:-1",
		"apply:+1",
		"apply:01",
		"apply:1.5",
		"apply:1:2",
		"approve:1",
		"approve:1:2:3",
		"approve:1:x",
		"APPLY:1",
		"apply:9223372036854775808",
		"apply: 1",
		"publish:1:2",
	}
	for _, data := range bad {
		t.Run(data, func(t *testing.T) {
			_, err := ParseAction(data)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestParseAction_TooLong(t *testing.T) {
	data := "apply:1" + string(make([]byte, MaxActionDataLen))
	_, err := ParseAction(data)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
