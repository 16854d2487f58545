package account

import (
	"context"

	"graphgate.org/internal/obs"
)

// LogSender is the default code delivery collaborator: it logs the code
// instead of sending it. Deployments wire a real mailer behind
// identity.CodeSender; development and tests read the log line.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, code, email string) error {
	obs.LogRequest(map[string]any{
		"level": "info",
		"msg":   "verification_code_issued",
		"email": email,
		"code":  code,
	})
	return nil
}
