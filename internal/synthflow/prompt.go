package synthflow

import (
	"fmt"
	"strings"

	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/gateway"
)

func BuildGreeting(spec gateway.CallSpec) string {
	return fmt.Sprintf("Hi, my name is %s, my phone number is %s", spec.CallerName, spec.CallerPhone)
}

// BuildPrompt tells the agent who it speaks for and what it must get done.
func BuildPrompt(spec gateway.CallSpec) string {
	var prompt strings.Builder

	fmt.Fprintf(&prompt, "You are calling customer support on behalf of %s.\n\n", spec.CallerName)
	prompt.WriteString("Instructions:\n")
	fmt.Fprintf(&prompt, "1. Identify yourself: %q\n", BuildGreeting(spec))
	fmt.Fprintf(&prompt, "2. State the request clearly: %q\n", spec.Action)

	step := 3
	if spec.AdditionalInfo != "" {
		fmt.Fprintf(&prompt, "%d. If asked for more details, provide: %s\n", step, spec.AdditionalInfo)
		step++
	}

	fmt.Fprintf(&prompt, "%d. Be polite and follow the agent's verification steps.\n", step)
	fmt.Fprintf(&prompt, "%d. Confirm the action has been completed, then thank the agent.\n", step+1)

	return prompt.String()
}
