package healthchecker

import (
	"context"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/gateway"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/synthflow"
)

const unknownCallID = "healthcheck"

// CheckSynthflow looks up a known call. Any answer that is not a transient
// failure means the API is reachable.
func CheckSynthflow(ctx context.Context) error {
	client := synthflow.New(
		config.Conf.SynthflowBaseURL,
		config.Conf.SynthflowAPIKey,
		config.Conf.SynthflowModelID,
		time.Duration(config.Conf.SynthflowTimeout)*time.Second,
	)

	callID := config.Conf.SynthflowHealthCallID
	if callID == "" {
		callID = unknownCallID
	}

	_, err := client.Poll(ctx, callID)
	if err != nil && gateway.IsTransient(err) {
		return err
	}

	return nil
}
