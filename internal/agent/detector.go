package agent

import (
	"strings"
	"time"

	"taskdeck/cli/internal/status"
)

const approvalPrompt = "would you like to run the following command"

// IdleAfter is the silence after which a working agent is considered idle.
const IdleAfter = time.Second

// detector derives status from the rendered screen. It is not safe for
// concurrent use; Agent serializes access together with the screen.
type detector struct {
	now        func() time.Time
	lastOutput time.Time
	lastStatus status.Status
}

func (d *detector) reset() {
	d.lastOutput = time.Time{}
	d.lastStatus = ""
}

// observe records output activity and returns the derived status if it changed.
func (d *detector) observe(screenText string) (status.Status, bool) {
	d.lastOutput = d.now()
	next := status.Working
	if strings.Contains(strings.ToLower(screenText), approvalPrompt) {
		next = status.AwaitingApproval
	}
	if next == d.lastStatus {
		return "", false
	}
	d.lastStatus = next
	return next, true
}

// idle only fires from Working; a pending approval prompt stays visible.
func (d *detector) idle() (status.Status, bool) {
	if d.lastOutput.IsZero() || d.lastStatus != status.Working {
		return "", false
	}
	if d.now().Sub(d.lastOutput) < IdleAfter {
		return "", false
	}
	d.lastStatus = status.Idle
	return status.Idle, true
}
