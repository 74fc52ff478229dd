package utils

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// One reader for the whole process so buffered input survives between
// prompts when stdin is piped.
var (
	input  = bufio.NewReader(os.Stdin)
	output io.Writer = os.Stdout
)

func Prompt(message string) (string, error) {
	fmt.Fprintf(output, "%s: ", BrightWhite(message))
	return readLine()
}

// PromptPassword reads without echo when stdin is a terminal.
func PromptPassword(message string) (string, error) {
	fmt.Fprintf(output, "%s: ", BrightWhite(message))
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return readLine()
	}
	secret, err := term.ReadPassword(fd)
	fmt.Fprintln(output)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(secret)), nil
}

func PromptWithDefault(message, defaultValue string) (string, error) {
	fmt.Fprintf(output, "%s [%s]: ", BrightWhite(message), Dim(defaultValue))
	text, err := readLine()
	if err != nil {
		return "", err
	}
	if text == "" {
		return defaultValue, nil
	}
	return text, nil
}

// PromptChoice asks again until the answer matches one of choices, case
// insensitively, and returns the matching choice.
func PromptChoice(message string, choices []string, defaultValue string) (string, error) {
	label := fmt.Sprintf("%s (%s)", message, strings.Join(choices, "/"))
	for {
		answer, err := PromptWithDefault(label, defaultValue)
		if err != nil {
			return "", err
		}
		for _, c := range choices {
			if strings.EqualFold(answer, c) {
				return c, nil
			}
		}
		fmt.Fprintln(output, Yellow("  Please answer one of: "+strings.Join(choices, ", ")))
	}
}

func readLine() (string, error) {
	text, err := input.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && text != "") {
		return "", err
	}
	return strings.TrimSpace(text), nil
}
