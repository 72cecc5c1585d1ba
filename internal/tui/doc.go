// Package tui provides the terminal prompt shown when a task is escalated.
//
// The prompt is a small Bubble Tea program that shows the task, its attempt
// counters, the escalation reason and the tail of the last error, then waits
// for a single key:
//
//	r  retry with a fresh attempt budget
//	s  skip the task
//	a  abort the run (resumable)
//	q  decide later
//
// Quitting without a choice returns escalation.ErrNoDecision, which leaves
// the run paused for 'taskmaster decide'.
//
// Usage:
//
//	p := tui.NewTerminalPrompter(os.Stdin, os.Stdout)
//	decision, err := p.Ask(ctx, req)
package tui
