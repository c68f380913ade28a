package main

import (
	"fmt"
	"io"
)

// terminalUI prints poll transitions as lines.
type terminalUI struct {
	out io.Writer
}

func (u *terminalUI) SetBusy(busy bool) {
	if busy {
		fmt.Fprintln(u.out, "Waiting for plan generation...")
	}
}

func (u *terminalUI) OnPending()             { fmt.Fprintln(u.out, "Status: pending") }
func (u *terminalUI) OnReady()               { fmt.Fprintln(u.out, "Status: ready") }
func (u *terminalUI) OnError(message string) { fmt.Fprintf(u.out, "Status: error: %s\n", message) }
func (u *terminalUI) EnableTrigger()         {}
func (u *terminalUI) DisableTrigger(message string) {
	fmt.Fprintf(u.out, "Cannot generate a plan: %s\n", message)
}
