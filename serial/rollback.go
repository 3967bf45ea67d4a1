package serial

import "github.com/ardnew/usbserial/pkg"

// undoStack holds the release of every registration acquired so far.
// Unwinding releases them most recent first. After commit, unwind is a
// no-op.
type undoStack struct {
	steps     []undoStep
	committed bool
}

type undoStep struct {
	what    string
	release func()
}

func (u *undoStack) push(what string, release func()) {
	u.steps = append(u.steps, undoStep{what: what, release: release})
}

func (u *undoStack) commit() {
	u.committed = true
	u.steps = nil
}

func (u *undoStack) unwind() {
	if u.committed {
		return
	}
	for i := len(u.steps) - 1; i >= 0; i-- {
		pkg.LogDebug(pkg.ComponentCoordinator, "rollback", "release", u.steps[i].what)
		u.steps[i].release()
	}
	u.steps = nil
}
