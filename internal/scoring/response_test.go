package scoring

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoreOf(t *testing.T) {
	cases := []struct {
		response Response
		want     string
	}{
		{Yes, "1"},
		{No, "-1"},
		{Partial, "0.5"},
		{NotApplicable, "0"},
	}
	for _, tc := range cases {
		t.Run(string(tc.response), func(t *testing.T) {
			got, err := ScoreOf(tc.response)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.String())
		})
	}
}

func TestScoreOfRejectsUnknownValues(t *testing.T) {
	for _, raw := range []string{"", "maybe", "YES ", "sim", "1"} {
		_, err := ScoreOf(Response(raw))
		require.Error(t, err, "value %q", raw)

		var verr *ValidationError
		assert.True(t, errors.As(err, &verr))
		assert.ErrorIs(t, err, ErrInvalidResponse)
		assert.Equal(t, raw, verr.Value)
	}
}

func TestParseResponse(t *testing.T) {
	r, err := ParseResponse("  Partial ")
	require.NoError(t, err)
	assert.Equal(t, Partial, r)

	r, err = ParseResponse("NOT_APPLICABLE")
	require.NoError(t, err)
	assert.Equal(t, NotApplicable, r)

	_, err = ParseResponse("n/a")
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestResponsesAreAllValid(t *testing.T) {
	assert.Len(t, Responses(), 4)
	for _, r := range Responses() {
		assert.True(t, r.Valid())
	}
}

func TestRound1(t *testing.T) {
	d, _ := ScoreOf(Partial)
	assert.Equal(t, 0.5, Round1(d))
	assert.Equal(t, 1.5, Round1(d.Add(d).Add(d)))
}
