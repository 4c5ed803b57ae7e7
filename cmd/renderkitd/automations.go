package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/renderkit/renderkit/pkg/automation"
)

var errAutomationMissingID = errors.New("automation definition has no id")

// loadAutomations reads automation definitions from a JSON file. Definitions
// must carry fixed IDs: the scheduler derives idempotency keys from them, and
// a definition whose ID changes across restarts would fire twice.
func loadAutomations(path string) ([]*automation.Automation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read automations file: %w", err)
	}

	var defs []*automation.Automation
	if err := json.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("parse automations file %s: %w", path, err)
	}

	for _, def := range defs {
		if def.ID == uuid.Nil {
			return nil, fmt.Errorf("%w: %q", errAutomationMissingID, def.Name)
		}
	}
	return defs, nil
}

// registerScheduled adds the schedule-triggered definitions to the scheduler
// and returns how many it registered. Disabled entries and other trigger
// kinds are skipped; those fire through the runner when something external
// trips them.
func registerScheduled(sched *automation.Scheduler, defs []*automation.Automation, log *slog.Logger) (int, error) {
	registered := 0
	for _, def := range defs {
		if !def.Enabled {
			log.Info("skipping disabled automation", slog.String("automation", def.Name))
			continue
		}
		if def.Trigger.Kind != automation.TriggerSchedule {
			log.Debug("automation waits for external trigger",
				slog.String("automation", def.Name),
				slog.String("trigger", string(def.Trigger.Kind)),
			)
			continue
		}
		if err := sched.Add(def); err != nil {
			return registered, fmt.Errorf("register automation %q: %w", def.Name, err)
		}
		registered++
	}
	return registered, nil
}
