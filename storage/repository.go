package storage

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/room4-2/OpenBooking/audit"
	"github.com/room4-2/OpenBooking/slots"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	DefaultCallLogLimit = 20
	MaxCallLogLimit     = 200
)

// Repository is the persistence collaborator. RecordBooking returns an empty
// id when persistence is disabled.
type Repository interface {
	RecordTurn(ctx context.Context, rec audit.Record) error
	RecordBooking(ctx context.Context, conversationID string, s slots.Slots, metadata map[string]any) (string, error)
	RecentCallLogs(ctx context.Context, limit int) ([]CallLog, error)
	Enabled() bool
}

// Open returns a migrated Postgres-backed repository, or Disabled when db is
// nil.
func Open(ctx context.Context, db *gorm.DB, log *zap.Logger) (Repository, error) {
	if db == nil {
		log.Info("DATABASE_URL not set, call logs and bookings will not be persisted")
		return NewDisabled(log), nil
	}
	repo := NewGormRepository(db, log)
	if err := repo.Migrate(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

type GormRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewGormRepository(db *gorm.DB, log *zap.Logger) *GormRepository {
	return &GormRepository{db: db, log: log.Named("storage")}
}

func (r *GormRepository) Migrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&CallLog{}, &Appointment{}); err != nil {
		return fmt.Errorf("migrate storage: %w", err)
	}
	return nil
}

func (r *GormRepository) Enabled() bool { return true }

func (r *GormRepository) RecordTurn(ctx context.Context, rec audit.Record) error {
	row, err := newCallLog(rec)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert call log: %w", err)
	}
	return nil
}

func (r *GormRepository) RecordBooking(ctx context.Context, conversationID string, s slots.Slots, metadata map[string]any) (string, error) {
	row := newAppointment(conversationID, s, metadata)
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", fmt.Errorf("insert appointment: %w", err)
	}
	r.log.Info("appointment recorded", zap.String("appointment_id", row.ID.String()), zap.String("call_sid", conversationID))
	return row.ID.String(), nil
}

func (r *GormRepository) RecentCallLogs(ctx context.Context, limit int) ([]CallLog, error) {
	var rows []CallLog
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(ClampLimit(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list call logs: %w", err)
	}
	return rows, nil
}

// ClampLimit bounds a requested page size.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultCallLogLimit
	case limit > MaxCallLogLimit:
		return MaxCallLogLimit
	default:
		return limit
	}
}

func newCallLog(rec audit.Record) (CallLog, error) {
	usedDocs := rec.UsedDocs
	if usedDocs == nil {
		usedDocs = []string{}
	}
	docs, err := sonic.Marshal(usedDocs)
	if err != nil {
		return CallLog{}, fmt.Errorf("encode used docs: %w", err)
	}

	return CallLog{
		ID:          uuid.New(),
		CallSID:     rec.ConversationID,
		PhoneNumber: rec.Caller,
		Transcript:  rec.Transcript,
		UsedDocs:    datatypes.JSON(docs),
		LLMResponse: rec.Reply,
		TTSURL:      rec.AudioURL,
		Metadata: datatypes.JSONMap{
			"turn":           rec.Turn,
			"mode":           rec.Mode,
			"rule":           rec.Rule,
			"slots":          rec.Slots,
			"changed_slots":  rec.ChangedSlots,
			"missing_slots":  rec.MissingSlots,
			"booking_id":     rec.BookingID,
			"developer_note": rec.DeveloperNote,
		},
	}, nil
}

func newAppointment(conversationID string, s slots.Slots, metadata map[string]any) Appointment {
	return Appointment{
		ID:                uuid.New(),
		CallSID:           conversationID,
		PatientName:       s[slots.PatientName],
		AppointmentReason: s[slots.AppointmentReason],
		PreferredDate:     s[slots.PreferredDate],
		PreferredTime:     s[slots.PreferredTime],
		DoctorPreference:  s[slots.DoctorPreference],
		Metadata:          datatypes.JSONMap(metadata),
	}
}

// Disabled skips every write.
type Disabled struct {
	log *zap.Logger
}

func NewDisabled(log *zap.Logger) Disabled {
	return Disabled{log: log.Named("storage")}
}

func (Disabled) Enabled() bool { return false }

func (Disabled) RecordTurn(context.Context, audit.Record) error { return nil }

func (d Disabled) RecordBooking(_ context.Context, conversationID string, _ slots.Slots, _ map[string]any) (string, error) {
	if d.log != nil {
		d.log.Info("persistence disabled, booking not stored", zap.String("call_sid", conversationID))
	}
	return "", nil
}

func (Disabled) RecentCallLogs(context.Context, int) ([]CallLog, error) {
	return []CallLog{}, nil
}
