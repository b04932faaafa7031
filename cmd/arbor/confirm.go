package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/arborhq/arbor/internal/tree"
	"github.com/arborhq/arbor/internal/types"
	"github.com/arborhq/arbor/internal/ui"
)

// errNotConfirmed is returned when the user declines a destructive change.
var errNotConfirmed = errors.New("schema change cancelled")

// confirmChange asks before a schema change that deletes dependents.
// --yes confirms without asking; without a terminal the change is refused.
func confirmChange(c *tree.Change) (bool, error) {
	deps := c.Dependents()
	if len(deps) == 0 || yesFlag {
		return true, nil
	}
	if jsonOutput || !ui.IsTerminal() {
		return false, nil
	}

	fmt.Fprintln(os.Stderr, describeDependents(c))
	confirmed := false
	err := huh.NewConfirm().
		Title(fmt.Sprintf("Apply %s to tree %s?", c.Operation(), c.TreeName())).
		Description(fmt.Sprintf("%d dependent artifact(s) will be deleted.", len(deps))).
		Affirmative("Delete and apply").
		Negative("Cancel").
		Value(&confirmed).
		WithTheme(huh.ThemeDracula()).
		Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return false, errNotConfirmed
	}
	if err != nil {
		return false, fmt.Errorf("confirmation prompt: %w", err)
	}
	return confirmed, nil
}

// describeDependents renders the artifacts a change would delete.
func describeDependents(c *tree.Change) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s on tree %s will delete:\n", ui.RenderWarnIcon(), c.Operation(), ui.RenderAccent(c.TreeName()))
	for _, a := range c.Dependents() {
		fmt.Fprintf(&b, "%s%s %s\n", ui.TreeIndent, ui.RenderMuted(artifactLabel(a.Kind)), a.Name)
	}
	return strings.TrimRight(b.String(), "\n")
}

func artifactLabel(k types.ArtifactKind) string {
	return strings.ReplaceAll(string(k), "_", " ")
}

// commitChange confirms and commits a planned change, turning a refusal
// into the dependent-artifact warning so JSON callers get its code.
func commitChange(c *tree.Change) (*types.TreeSchema, error) {
	ok, err := confirmChange(c)
	if err != nil {
		c.Cancel()
		return nil, err
	}
	if !ok {
		return c.Commit(rootCtx, false)
	}
	return c.Commit(rootCtx, true)
}

func okIcon() string {
	if !ui.ShouldUseEmoji() {
		return ui.RenderPass("ok:")
	}
	return ui.RenderPassIcon()
}
