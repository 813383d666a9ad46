package ui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// ProgramRunner manages the lifecycle of a Bubble Tea program
type ProgramRunner struct {
	program *tea.Program
	// KillTimeout bounds how long a cancelled program may take to quit.
	KillTimeout time.Duration
}

// NewProgramRunner creates the program. Extra options such as tea.WithInput
// are passed through.
func NewProgramRunner(model tea.Model, opts ...tea.ProgramOption) *ProgramRunner {
	return &ProgramRunner{
		program:     tea.NewProgram(model, opts...),
		KillTimeout: 2 * time.Second,
	}
}

// Run blocks until the program exits or ctx is cancelled
func (r *ProgramRunner) Run(ctx context.Context) (tea.Model, error) {
	type result struct {
		model tea.Model
		err   error
	}
	done := make(chan result, 1)
	go func() {
		m, err := r.program.Run()
		done <- result{m, err}
	}()

	select {
	case res := <-done:
		return res.model, res.err
	case <-ctx.Done():
		r.program.Quit()
		select {
		case res := <-done:
			return res.model, res.err
		case <-time.After(r.KillTimeout):
			// Force kill the program if it's not responding
			r.program.Kill()
			res := <-done
			return res.model, res.err
		}
	}
}

// Send sends a message to the running program
func (r *ProgramRunner) Send(msg tea.Msg) {
	r.program.Send(msg)
}

// Quit asks the program to exit
func (r *ProgramRunner) Quit() {
	r.program.Quit()
}
