package storage

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// CallLog is one processed turn.
type CallLog struct {
	ID          uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	CallSID     string            `gorm:"column:call_sid;type:varchar(64);not null;index" json:"call_sid"`
	PhoneNumber string            `gorm:"type:varchar(32)" json:"phone_number"`
	Transcript  string            `gorm:"type:text" json:"transcript"`
	UsedDocs    datatypes.JSON    `gorm:"type:jsonb" json:"used_docs"`
	LLMResponse string            `gorm:"column:llm_response;type:text" json:"llm_response"`
	TTSURL      string            `gorm:"column:tts_url;type:text" json:"tts_url"`
	Metadata    datatypes.JSONMap `gorm:"type:jsonb" json:"metadata"`
	CreatedAt   time.Time         `gorm:"autoCreateTime;index" json:"created_at"`
}

func (CallLog) TableName() string {
	return "call_logs"
}

// Appointment is a completed booking request.
type Appointment struct {
	ID                uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	CallSID           string            `gorm:"column:call_sid;type:varchar(64);not null;index" json:"call_sid"`
	PatientName       string            `gorm:"type:varchar(255)" json:"patient_name"`
	AppointmentReason string            `gorm:"type:text" json:"appointment_reason"`
	PreferredDate     string            `gorm:"type:varchar(64)" json:"preferred_date"`
	PreferredTime     string            `gorm:"type:varchar(64)" json:"preferred_time"`
	DoctorPreference  string            `gorm:"type:varchar(255)" json:"doctor_preference"`
	Metadata          datatypes.JSONMap `gorm:"type:jsonb" json:"metadata"`
	CreatedAt         time.Time         `gorm:"autoCreateTime" json:"created_at"`
}

func (Appointment) TableName() string {
	return "appointments"
}
