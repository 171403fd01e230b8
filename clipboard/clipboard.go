// Package clipboard copies prediction results to the system clipboard.
package clipboard

import (
	"fmt"
	"strings"

	cb "github.com/atotto/clipboard"
)

// Unsupported is true when no clipboard utility is available.
var Unsupported = cb.Unsupported

// Format renders a prediction the way it is pasted: the score, then the
// transcription on the next line when there is one.
func Format(label, transcription string) string {
	transcription = strings.TrimSpace(transcription)
	if transcription == "" {
		return "Score: " + label
	}
	return fmt.Sprintf("Score: %s\n%s", label, transcription)
}

func Copy(text string) error {
	if err := cb.WriteAll(text); err != nil {
		return fmt.Errorf("copying to clipboard: %w", err)
	}
	return nil
}

func Read() (string, error) {
	return cb.ReadAll()
}
