package dock

import (
	"github.com/telemy/aegis-shim/internal/wire"
)

// Action-result statuses.
const (
	StatusQueued    = "queued"
	StatusRejected  = "rejected"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ActionResult describes the lifecycle of one dock action, delivered to
// the page as receiveDockActionResultJson(<json>).
type ActionResult struct {
	ActionType string
	RequestID  string
	Status     string
	OK         bool
	Error      string
	Detail     string
}

// JSON renders the result with null for absent string fields.
func (r ActionResult) JSON() string {
	status := r.Status
	if status == "" {
		status = "unknown"
	}
	return wire.ValueToJSON(map[string]any{
		"actionType": nullable(r.ActionType),
		"requestId":  nullable(r.RequestID),
		"status":     status,
		"ok":         r.OK,
		"error":      nullable(r.Error),
		"detail":     nullable(r.Detail),
	})
}

// SceneSwitchCompleted describes one scene switch outcome, delivered to
// the page as receiveSceneSwitchCompletedJson(<json>).
type SceneSwitchCompleted struct {
	RequestID string
	SceneName string
	OK        bool
	Error     string
	Reason    string
}

// JSON renders the completion with null for absent string fields. The
// error field is null on success.
func (s SceneSwitchCompleted) JSON() string {
	var errVal any
	if !s.OK && s.Error != "" {
		errVal = s.Error
	}
	return wire.ValueToJSON(map[string]any{
		"requestId": nullable(s.RequestID),
		"sceneName": nullable(s.SceneName),
		"ok":        s.OK,
		"error":     errVal,
		"reason":    nullable(s.Reason),
	})
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
