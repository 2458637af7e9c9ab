package review

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/fyrsmithlabs/reviewgate/internal/orchestrator"
)

// scriptedRunner returns queued outcomes in order and records every
// invocation together with the payload file it referenced.
type scriptedRunner struct {
	mu       sync.Mutex
	outcomes []orchestrator.ProcessOutcome
	errs     []error
	calls    []orchestrator.Invocation
	payloads []payload
}

func (s *scriptedRunner) Run(_ context.Context, inv orchestrator.Invocation) (orchestrator.ProcessOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, inv)
	for _, a := range inv.Args {
		data, err := os.ReadFile(a)
		if err != nil {
			continue
		}
		var p payload
		if json.Unmarshal(data, &p) == nil {
			s.payloads = append(s.payloads, p)
		}
	}

	i := len(s.calls) - 1
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	if i < len(s.outcomes) {
		return s.outcomes[i], err
	}
	return orchestrator.ProcessOutcome{ExitCode: 0}, err
}
