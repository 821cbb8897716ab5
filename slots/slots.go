package slots

import (
	"strings"
)

// Name identifies one appointment field collected from the caller.
type Name string

const (
	PatientName       Name = "patient_name"
	AppointmentReason Name = "appointment_reason"
	PreferredDate     Name = "preferred_date"
	PreferredTime     Name = "preferred_time"
	DoctorPreference  Name = "doctor_preference"
)

// Ordered lists every recognized slot in follow-up priority order.
var Ordered = []Name{
	PatientName,
	AppointmentReason,
	PreferredDate,
	PreferredTime,
	DoctorPreference,
}

// Required lists the slots that must be present before a booking completes.
var Required = []Name{
	PatientName,
	AppointmentReason,
	PreferredDate,
	PreferredTime,
}

var labels = map[Name]string{
	PatientName:       "your full name",
	AppointmentReason: "the reason for your visit",
	PreferredDate:     "the date you prefer",
	PreferredTime:     "the time you prefer",
	DoctorPreference:  "any doctor preference",
}

// Label returns the spoken label used when asking for a slot.
func (n Name) Label() string {
	if l, ok := labels[n]; ok {
		return l
	}
	return strings.ReplaceAll(string(n), "_", " ")
}

// IsRequired reports whether the slot blocks booking completion.
func (n Name) IsRequired() bool {
	for _, r := range Required {
		if r == n {
			return true
		}
	}
	return false
}

// Parse resolves a raw field name to a recognized slot.
func Parse(raw string) (Name, bool) {
	n := Name(strings.TrimSpace(raw))
	_, ok := labels[n]
	return n, ok
}

// Slots holds the set values of a conversation. An absent key means unset;
// a present key always holds a trimmed, non-empty value.
type Slots map[Name]string

// Get returns the value of a slot and whether it is set.
func (s Slots) Get(n Name) (string, bool) {
	v, ok := s[n]
	return v, ok && v != ""
}

// Has reports whether the slot is set.
func (s Slots) Has(n Name) bool {
	_, ok := s.Get(n)
	return ok
}

// Clone returns an independent copy.
func (s Slots) Clone() Slots {
	out := make(Slots, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Missing returns every unset slot in priority order.
func (s Slots) Missing() []Name {
	missing := make([]Name, 0, len(Ordered))
	for _, n := range Ordered {
		if !s.Has(n) {
			missing = append(missing, n)
		}
	}
	return missing
}

// MissingRequired returns the unset required slots in priority order.
func (s Slots) MissingRequired() []Name {
	missing := make([]Name, 0, len(Required))
	for _, n := range Required {
		if !s.Has(n) {
			missing = append(missing, n)
		}
	}
	return missing
}

// Complete reports whether every required slot is set.
func (s Slots) Complete() bool {
	return len(s.MissingRequired()) == 0
}

// Names returns the set slot names in priority order.
func (s Slots) Names() []Name {
	names := make([]Name, 0, len(s))
	for _, n := range Ordered {
		if s.Has(n) {
			names = append(names, n)
		}
	}
	return names
}

// ToMap flattens the slots into a string-keyed map holding every recognized
// slot, with nil for the unset ones.
func (s Slots) ToMap() map[string]*string {
	out := make(map[string]*string, len(Ordered))
	for _, n := range Ordered {
		if v, ok := s.Get(n); ok {
			v := v
			out[string(n)] = &v
			continue
		}
		out[string(n)] = nil
	}
	return out
}

// Known returns only the set slots keyed by their string name.
func (s Slots) Known() map[string]string {
	out := make(map[string]string, len(s))
	for _, n := range s.Names() {
		out[string(n)] = s[n]
	}
	return out
}

// NamesToStrings converts slot names for logging and serialization.
func NamesToStrings(names []Name) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = string(n)
	}
	return out
}
