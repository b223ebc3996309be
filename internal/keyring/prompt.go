package keyring

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// readSecret reads one line without echo, preferring the controlling
// terminal over stdin
func readSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	fd := int(os.Stdin.Fd())
	tty, err := os.Open("/dev/tty")
	if err == nil {
		defer tty.Close()
		fd = int(tty.Fd())
	}

	passwordBytes, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr) // Print newline after password input
	if err != nil {
		return "", err
	}
	return string(passwordBytes), nil
}

// PromptPassword prompts the user to enter a password securely (no echo)
func PromptPassword(username string) (string, error) {
	password, err := readSecret(fmt.Sprintf("Enter password for '%s': ", username))
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return password, nil
}

// PromptAndConfirmPassword prompts for a password twice and confirms they match
func PromptAndConfirmPassword(username string) (string, error) {
	password1, err := PromptPassword(username)
	if err != nil {
		return "", err
	}

	password2, err := readSecret(fmt.Sprintf("Confirm password for '%s': ", username))
	if err != nil {
		return "", fmt.Errorf("failed to read password confirmation: %w", err)
	}

	if password1 != password2 {
		return "", fmt.Errorf("passwords do not match")
	}
	if password1 == "" {
		return "", fmt.Errorf("password must not be empty")
	}
	return password1, nil
}
