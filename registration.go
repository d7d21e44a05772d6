package authx

import (
	"regexp"
	"sort"
	"strings"
)

const minPasswordLength = 8

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Registration is the sign-up payload accepted by the Auth Service.
type Registration struct {
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	Organization string `json:"organization"`
}

// User is the account record returned by the Auth Service.
type User struct {
	ID           int    `json:"id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Email        string `json:"email"`
	Organization string `json:"organization,omitempty"`
	IsVerified   bool   `json:"is_verified"`
	Role         string `json:"role,omitempty"`
}

// FieldErrors maps a form field to its validation message.
type FieldErrors map[string]string

// Error implements the error interface with fields in a stable order.
func (f FieldErrors) Error() string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+f[k])
	}
	return strings.Join(parts, "; ")
}

// Validate applies the sign-up form rules before anything reaches the network.
func (r Registration) Validate() error {
	fields := FieldErrors{}
	if strings.TrimSpace(r.FirstName) == "" {
		fields["first_name"] = "First name is required"
	}
	if strings.TrimSpace(r.LastName) == "" {
		fields["last_name"] = "Last name is required"
	}
	if strings.TrimSpace(r.Organization) == "" {
		fields["organization"] = "Organization is required"
	}
	if msg := emailProblem(r.Email); msg != "" {
		fields["email"] = msg
	}
	if msg := passwordProblem(r.Password); msg != "" {
		fields["password"] = msg
	}
	if len(fields) == 0 {
		return nil
	}
	return &Error{Code: ErrCodeInvalidRequest, Message: defaultMessage(ErrCodeInvalidRequest), Err: fields}
}

// ValidateEmail checks that email is present and well formed.
func ValidateEmail(email string) error {
	if msg := emailProblem(email); msg != "" {
		return &Error{Code: ErrCodeInvalidRequest, Message: defaultMessage(ErrCodeInvalidRequest), Err: FieldErrors{"email": msg}}
	}
	return nil
}

// ValidateCredentials applies the sign-in form rules.
func ValidateCredentials(email, password string) error {
	fields := FieldErrors{}
	if msg := emailProblem(email); msg != "" {
		fields["email"] = msg
	}
	if msg := passwordProblem(password); msg != "" {
		fields["password"] = msg
	}
	if len(fields) == 0 {
		return nil
	}
	return &Error{Code: ErrCodeInvalidRequest, Message: defaultMessage(ErrCodeInvalidRequest), Err: fields}
}

func emailProblem(email string) string {
	switch {
	case strings.TrimSpace(email) == "":
		return "Email is required"
	case !emailPattern.MatchString(email):
		return "Invalid email format"
	}
	return ""
}

func passwordProblem(password string) string {
	switch {
	case strings.TrimSpace(password) == "":
		return "Password is required"
	case len(password) < minPasswordLength:
		return "Password must be at least 8 characters"
	}
	return ""
}
