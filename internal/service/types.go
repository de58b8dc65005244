package service

// Profile is the provider-supplied identity of the signed-in user.
// Empty fields are absent on the provider side.
type Profile struct {
	DisplayName string
	Email       string
	PhotoURL    string
}

// Name returns the display name, falling back to the email.
func (p Profile) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Email
}

// Record is a loosely-typed remote document as delivered by a Store.
// Known keys: "id" (string), "title" (string), "isDone" (bool).
type Record map[string]any

// Record field names.
const (
	FieldID     = "id"
	FieldTitle  = "title"
	FieldIsDone = "isDone"
)
