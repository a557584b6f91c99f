package reminder

import (
	"fmt"
	"strings"
)

const (
	birthdayTemplate    = "🎂 Aaj %s ka Birthday hai! %d saal ke ho gaye hain. Mubarak ho!"
	anniversaryTemplate = "💍 Aaj %s ki shaadi ki %dvi anniversary hai! Mubarak ho!"
)

// Render builds the notification text for one occurrence.
func Render(kind Kind, name string, years int) (string, error) {
	name = strings.TrimSpace(name)
	switch kind {
	case KindBirthday:
		return fmt.Sprintf(birthdayTemplate, name, years), nil
	case KindAnniversary:
		return fmt.Sprintf(anniversaryTemplate, name, years), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, string(kind))
	}
}
