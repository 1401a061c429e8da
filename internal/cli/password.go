package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"basalt/internal/errors"
	"basalt/internal/volume"

	"golang.org/x/term"
)

// isTerminal returns true if stdin is a terminal (not piped/redirected).
func isTerminal() bool {
	return term.IsTerminal(int(syscall.Stdin))
}

// readPasswordSecure reads a password from stdin without echo.
// Falls back to buffered read if stdin is not a terminal.
func readPasswordSecure(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	if !isTerminal() {
		// stdin is piped; read normally
		reader := bufio.NewReader(os.Stdin)
		pw, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		pw = strings.TrimSuffix(pw, "\n")
		pw = strings.TrimSuffix(pw, "\r")
		return pw, nil
	}

	// Terminal mode: disable echo
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(pw), nil
}

// promptPassword asks for a volume password. With confirm, it asks
// twice and compares. An empty password is accepted only when keyfiles
// are present.
func promptPassword(prompt string, confirm bool, haveKeyfiles bool) (*volume.Password, error) {
	secret, err := readPasswordSecure(prompt)
	if err != nil {
		return nil, err
	}
	if secret == "" && !haveKeyfiles {
		return nil, errors.NewValidationError("password", "empty (no keyfiles given)")
	}

	if confirm {
		again, err := readPasswordSecure("Confirm password: ")
		if err != nil {
			return nil, err
		}
		if secret != again {
			return nil, errors.NewValidationError("password", "passwords do not match")
		}
	}

	return volume.NewPassword([]byte(secret))
}
