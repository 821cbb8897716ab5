package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/room4-2/OpenBooking/audit"
	"github.com/room4-2/OpenBooking/slots"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDisabledSkipsWrites(t *testing.T) {
	repo, err := Open(context.Background(), nil, zap.NewNop())
	require.NoError(t, err)
	assert.False(t, repo.Enabled())

	id, err := repo.RecordBooking(context.Background(), "CA1", slots.Slots{slots.PatientName: "Ana"}, nil)
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, repo.RecordTurn(context.Background(), audit.Record{ConversationID: "CA1"}))

	logs, err := repo.RecentCallLogs(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultCallLogLimit, ClampLimit(0))
	assert.Equal(t, DefaultCallLogLimit, ClampLimit(-3))
	assert.Equal(t, 5, ClampLimit(5))
	assert.Equal(t, MaxCallLogLimit, ClampLimit(10_000))
}

func TestNewCallLogMapsRecord(t *testing.T) {
	row, err := newCallLog(audit.Record{
		ConversationID: "CA9",
		Caller:         "+15550001111",
		Turn:           3,
		Transcript:     "where do I park",
		Reply:          "In the east lot.",
		Mode:           "KNOWLEDGE_ANSWER",
		UsedDocs:       []string{"parking", "hours"},
		AudioURL:       "https://example.test/tts/CA9_3.mp3",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, row.ID.String())
	assert.Equal(t, "CA9", row.CallSID)
	assert.Equal(t, "+15550001111", row.PhoneNumber)
	assert.Equal(t, "In the east lot.", row.LLMResponse)
	assert.Equal(t, "https://example.test/tts/CA9_3.mp3", row.TTSURL)
	assert.Equal(t, "KNOWLEDGE_ANSWER", row.Metadata["mode"])

	var docs []string
	require.NoError(t, sonic.Unmarshal(row.UsedDocs, &docs))
	assert.Equal(t, []string{"parking", "hours"}, docs)
}

func TestNewCallLogWithoutDocsStoresEmptyList(t *testing.T) {
	row, err := newCallLog(audit.Record{ConversationID: "CA9"})
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(row.UsedDocs))
}

func TestNewAppointmentCopiesSlots(t *testing.T) {
	row := newAppointment("CA7", slots.Slots{
		slots.PatientName:       "Ana Lee",
		slots.AppointmentReason: "checkup",
		slots.PreferredDate:     "July 10",
		slots.PreferredTime:     "3pm",
	}, map[string]any{"caller": "+1555"})

	assert.Equal(t, "CA7", row.CallSID)
	assert.Equal(t, "Ana Lee", row.PatientName)
	assert.Equal(t, "3pm", row.PreferredTime)
	assert.Empty(t, row.DoctorPreference)
	assert.Equal(t, "+1555", row.Metadata["caller"])
}

// Runs against a real database when TEST_DATABASE_URL is set.
func TestGormRepositoryRoundTrip(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := NewGormDBFromDSN(dsn)
	require.NoError(t, err)
	repo, err := Open(ctx, db, zap.NewNop())
	require.NoError(t, err)
	require.True(t, repo.Enabled())

	id, err := repo.RecordBooking(ctx, "CA-test", slots.Slots{slots.PatientName: "Ana"}, map[string]any{})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	require.NoError(t, repo.RecordTurn(ctx, audit.Record{ConversationID: "CA-test", Reply: "hi"}))
	logs, err := repo.RecentCallLogs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "CA-test", logs[0].CallSID)
}
