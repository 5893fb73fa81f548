package ui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/charmbracelet/huh"

	"github.com/mschirtzinger/notesync/internal/resolver"
)

// ResolveFunc applies a decision; engine.Engine.ResolveConflict fits.
type ResolveFunc func(ctx context.Context, path string, choice resolver.Choice) (resolver.Action, error)

// AskFunc asks the user about one conflict. It must return when ctx is
// cancelled.
type AskFunc func(ctx context.Context, c resolver.Conflict) (resolver.Choice, error)

// ConflictPrompt implements resolver.Prompter for a terminal. The engine's
// calls only record the conflict; Run shows the prompts one at a time on its
// own goroutine. A conflict that changes while its prompt is showing is
// asked again with the new content, and a conflict cleared meanwhile closes
// its prompt.
type ConflictPrompt struct {
	resolve ResolveFunc
	ask     AskFunc
	out     io.Writer
	logger  *slog.Logger

	mu        sync.Mutex
	order     []int64
	conflicts map[int64]resolver.Conflict
	shown     int64
	// closeShown aborts the prompt for shown.
	closeShown context.CancelFunc
	wake       chan struct{}
}

var _ resolver.Prompter = (*ConflictPrompt)(nil)

// NewConflictPrompt returns a prompt that resolves through resolve and
// writes diffs and results to out. A nil ask uses an interactive form.
func NewConflictPrompt(resolve ResolveFunc, ask AskFunc, out io.Writer, logger *slog.Logger) *ConflictPrompt {
	if logger == nil {
		logger = slog.Default()
	}
	if ask == nil {
		ask = AskConflict
	}
	return &ConflictPrompt{
		resolve:   resolve,
		ask:       ask,
		out:       out,
		logger:    logger.With("component", "prompt"),
		conflicts: make(map[int64]resolver.Conflict),
		wake:      make(chan struct{}, 1),
	}
}

func (p *ConflictPrompt) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// ConflictRaised implements resolver.Prompter.
func (p *ConflictPrompt) ConflictRaised(c resolver.Conflict) {
	p.mu.Lock()
	if _, ok := p.conflicts[c.ID]; !ok {
		p.order = append(p.order, c.ID)
	}
	p.conflicts[c.ID] = c
	p.mu.Unlock()
	p.signal()
}

// ConflictUpdated implements resolver.Prompter.
func (p *ConflictPrompt) ConflictUpdated(c resolver.Conflict) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.conflicts[c.ID]; !ok {
		return
	}
	p.conflicts[c.ID] = c
	if p.shown == c.ID && p.closeShown != nil {
		p.closeShown()
	}
}

// ConflictCleared implements resolver.Prompter.
func (p *ConflictPrompt) ConflictCleared(path string, id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.conflicts, id)
	if p.shown == id && p.closeShown != nil {
		p.closeShown()
	}
}

// Pending returns the number of conflicts not yet decided.
func (p *ConflictPrompt) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conflicts)
}

// next returns the oldest conflict still pending.
func (p *ConflictPrompt) next() (resolver.Conflict, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.order) > 0 {
		id := p.order[0]
		if c, ok := p.conflicts[id]; ok {
			return c, true
		}
		p.order = p.order[1:]
	}
	return resolver.Conflict{}, false
}

// Run shows prompts until ctx is cancelled.
func (p *ConflictPrompt) Run(ctx context.Context) error {
	for {
		c, ok := p.next()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.wake:
				continue
			}
		}
		if err := p.handle(ctx, c); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}

// handle asks about c until it is decided, replaced or cleared.
func (p *ConflictPrompt) handle(ctx context.Context, c resolver.Conflict) error {
	askCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	current, ok := p.conflicts[c.ID]
	if !ok || current.Generation != c.Generation {
		// Changed before the prompt came up; the next round shows it.
		p.mu.Unlock()
		cancel()
		return nil
	}
	p.shown, p.closeShown = c.ID, cancel
	p.mu.Unlock()

	choice, err := p.ask(askCtx, c)

	p.mu.Lock()
	p.shown, p.closeShown = 0, nil
	current, ok = p.conflicts[c.ID]
	stale := !ok || current.Generation != c.Generation
	p.mu.Unlock()
	cancel()

	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case stale:
		if ok {
			fmt.Fprintln(p.out, WarningStyle.Render("The file changed again: "+c.Path))
		}
		return nil
	case errors.Is(err, huh.ErrUserAborted):
		// Left pending; the user can resolve it later.
		p.drop(c.ID)
		fmt.Fprintln(p.out, MutedStyle.Render("Conflict on "+c.Path+" left pending."))
		return nil
	case err != nil:
		return err
	}

	act, err := p.resolve(ctx, c.Path, choice)
	if err != nil {
		if errors.Is(err, resolver.ErrNoConflict) {
			p.drop(c.ID)
			return nil
		}
		fmt.Fprintln(p.out, ErrorStyle.Render(err.Error()))
		p.logger.Warn("conflict decision failed", "path", c.Path, "choice", choice, "error", err)
		return nil
	}

	switch choice {
	case resolver.ViewDiff:
		fmt.Fprintln(p.out, HeaderStyle.Render(c.Path+": - yours, + on disk"))
		fmt.Fprint(p.out, RenderDiff(act.Diff))
	case resolver.KeepMine:
		fmt.Fprintln(p.out, SuccessStyle.Render("Kept your version of "+c.Path))
	case resolver.AcceptTheirs:
		fmt.Fprintln(p.out, SuccessStyle.Render("Reloaded "+c.Path+" from disk"))
	}
	return nil
}

func (p *ConflictPrompt) drop(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.conflicts, id)
}

// AskConflict asks with an interactive terminal form.
func AskConflict(ctx context.Context, c resolver.Conflict) (resolver.Choice, error) {
	var choice resolver.Choice
	title := fmt.Sprintf("%s changed on disk while you were editing it", c.Path)
	if c.Generation > 1 {
		title = fmt.Sprintf("%s changed on disk again (%d times)", c.Path, c.Generation)
	}
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[resolver.Choice]().
				Title(title).
				Description("Saving this note is paused until you decide.").
				Options(
					huh.NewOption("Keep my version (overwrite the file)", resolver.KeepMine),
					huh.NewOption("Use the file on disk (discard my edits)", resolver.AcceptTheirs),
					huh.NewOption("Show the differences", resolver.ViewDiff),
				).
				Value(&choice),
		),
	)
	if err := form.RunWithContext(ctx); err != nil {
		return 0, err
	}
	return choice, nil
}
