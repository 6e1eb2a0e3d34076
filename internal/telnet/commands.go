package telnet

import "fmt"

// Command is a single console line to send.
type Command struct {
	Raw string
}

// SetConfig builds the command that sets a numeric client system option.
func SetConfig(option string, value uint) Command {
	return Command{Raw: fmt.Sprintf("setcfg %s %d", option, value)}
}

// Authenticate returns the login command (password).
func Authenticate(password string) Command {
	return Command{Raw: password}
}
