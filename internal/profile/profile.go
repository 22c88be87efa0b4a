// Package profile is the device-local persistence layer: cached user profiles
// and the credential records behind email/password auth.
package profile

// DefaultAvatar is the placeholder avatar token used until the user picks or
// uploads one.
const DefaultAvatar = "person.circle.fill"

// Profile is the locally cached record for one authenticated principal.
// AuthUID may be blank on records created before auth linking existed.
type Profile struct {
	ID             string `json:"id"`
	AuthUID        string `json:"auth_uid"`
	DisplayName    string `json:"display_name"`
	Email          string `json:"email,omitempty"`
	YearOfBirth    int    `json:"year_of_birth,omitempty"`
	DiagnosisNotes string `json:"diagnosis_notes,omitempty"`
	AvatarToken    string `json:"avatar_token"`
	ClinicianName  string `json:"clinician_name,omitempty"`
	ClinicName     string `json:"clinic_name,omitempty"`

	// Medication defaults consumed by the medication screens.
	DailyTablets int `json:"daily_tablets"`
	DailyPuffs   int `json:"daily_puffs"`

	// Reminder settings consumed by the scheduling subsystem.
	NotificationsEnabled bool `json:"notifications_enabled"`
	ReminderHour         int  `json:"reminder_hour"`
	ReminderMinute       int  `json:"reminder_minute"`
}

// WithDefaults fills the zero fields a freshly created profile should carry.
func (p Profile) WithDefaults() Profile {
	if p.AvatarToken == "" {
		p.AvatarToken = DefaultAvatar
	}
	if p.DailyTablets == 0 {
		p.DailyTablets = 2
	}
	if p.DailyPuffs == 0 {
		p.DailyPuffs = 2
	}
	if p.ReminderHour == 0 {
		p.ReminderHour = 18
	}
	p.NotificationsEnabled = true
	return p
}
