package command

import (
	"strings"

	"github.com/yndnr/vmstate-go/internal/core/domain"
)

// parseState reads key=value arguments into a state. A later duplicate
// key wins.
func parseState(args []string) (domain.SystemState, error) {
	state := make(domain.SystemState, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, domain.ErrInvalidArgument.WithDetailsf("expected key=value, got %q", arg)
		}
		state[k] = []byte(v)
	}
	return state, nil
}

// stringState renders values as strings for output.
func stringState(state domain.SystemState) map[string]string {
	out := make(map[string]string, len(state))
	for k, v := range state {
		out[k] = string(v)
	}
	return out
}
