package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// MinPasswordLength is the shortest password the login form accepts.
const MinPasswordLength = 6

// emailPattern is the login form check; the unescaped dot accepts any separator.
var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+.[a-zA-Z0-9.-]+$`)

// ValidateCredentials applies the login form rules: a plausible email and a password of at
// least MinPasswordLength characters.
func ValidateCredentials(email, password string) error {
	fields := map[string]string{}
	if !emailPattern.MatchString(strings.TrimSpace(email)) {
		fields["email"] = "please enter a valid email"
	}
	if len([]rune(password)) < MinPasswordLength {
		fields["password"] = fmt.Sprintf("must be at least %d characters", MinPasswordLength)
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}
