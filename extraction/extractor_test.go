package extraction

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/room4-2/OpenBooking/slots"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingCompleter struct {
	out     string
	err     error
	system  string
	payload string
}

func (r *recordingCompleter) CompleteJSON(_ context.Context, system, payload string) (string, error) {
	r.system = system
	r.payload = payload
	return r.out, r.err
}

func TestExtractFiltersAndTrims(t *testing.T) {
	c := &recordingCompleter{out: `{
		"patient_name": " Jane Doe ",
		"appointment_reason": "",
		"preferred_date": "July 10",
		"preferred_time": null,
		"doctor_preference": 7,
		"insurance": "Aetna",
		"reply": " Thanks Jane! "
	}`}
	ex := New(c, "Precision Pain and Spine Institute", zap.NewNop())

	res, err := ex.Extract(context.Background(), "I'm Jane Doe, July 10 works", slots.Slots{slots.PreferredDate: "July 10"})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"patient_name": "Jane Doe"}, res.Updates)
	assert.Equal(t, "Thanks Jane!", res.Reply)
	assert.Contains(t, c.system, "Precision Pain and Spine Institute")
	assert.True(t, strings.Contains(c.payload, `"preferred_date":"July 10"`))
	assert.True(t, strings.Contains(c.payload, `"utterance":"I'm Jane Doe, July 10 works"`))
}

func TestExtractDegradesOnMalformedOutput(t *testing.T) {
	for name, out := range map[string]string{
		"prose": "I could not parse that",
		"empty": "",
	} {
		t.Run(name, func(t *testing.T) {
			ex := New(&recordingCompleter{out: out}, "Clinic", zap.NewNop())
			res, err := ex.Extract(context.Background(), "hello", slots.Slots{})
			require.NoError(t, err)
			assert.Empty(t, res.Updates)
			assert.Empty(t, res.Reply)
		})
	}
}

func TestExtractPropagatesTransportFailure(t *testing.T) {
	ex := New(&recordingCompleter{err: errors.New("503")}, "Clinic", zap.NewNop())
	_, err := ex.Extract(context.Background(), "hello", slots.Slots{})
	assert.Error(t, err)
}

func TestParseRejectsNonObject(t *testing.T) {
	_, _, ok := Parse(`["patient_name"]`)
	assert.False(t, ok)
	_, _, ok = Parse(`null`)
	assert.False(t, ok)
}
