package services

import (
	"fmt"

	"github.com/sahelsms/orange-gateway/internal/model"
	"github.com/sahelsms/orange-gateway/pkg/logger"
)

// Handler is the host application's reaction surface for message lifecycle
// events. Each method receives the fully persisted message; return values do
// not exist because the gateway ignores the outcome. Panics are contained
// and never roll back the ledger write that preceded the call.
type Handler interface {
	HandleIncomingMO(msg *model.Message)
	HandleDeliveryReceipt(msg *model.Message)
	HandleSentMT(msg *model.Message)
}

// NoopHandler is the default stand-in when the host wires no handler.
type NoopHandler struct{}

func (NoopHandler) HandleIncomingMO(*model.Message)      {}
func (NoopHandler) HandleDeliveryReceipt(*model.Message) {}
func (NoopHandler) HandleSentMT(*model.Message)          {}

// HookError reports a panicking handler hook. The ledger mutation it follows
// is already durable; callers decide how to surface it.
type HookError struct {
	Hook string
	Err  error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("handler hook %s failed: %v", e.Hook, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

func runHook(name string, msgID string, fn func()) *HookError {
	var hookErr *HookError
	func() {
		defer func() {
			if r := recover(); r != nil {
				hookErr = &HookError{Hook: name, Err: fmt.Errorf("%v", r)}
			}
		}()
		fn()
	}()
	if hookErr != nil {
		logger.Error("handler hook panicked", "hook", name, "message_id", msgID, "error", hookErr.Err)
	}
	return hookErr
}
