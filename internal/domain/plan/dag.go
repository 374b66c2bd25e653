package plan

// ReadySteps returns the IDs of steps that are created and have all
// dependencies done, in plan order.
func ReadySteps(steps []Step) []string {
	done := make(map[string]bool, len(steps))
	for i := range steps {
		if steps[i].Status == StepStatusDone {
			done[steps[i].ID] = true
		}
	}

	var ready []string
	for i := range steps {
		if steps[i].Status != StepStatusCreated {
			continue
		}
		allDepsDone := true
		for _, dep := range steps[i].DependsOn {
			if !done[dep] {
				allDepsDone = false
				break
			}
		}
		if allDepsDone {
			ready = append(ready, steps[i].ID)
		}
	}
	return ready
}

// RunningCount returns the number of steps currently running.
func RunningCount(steps []Step) int {
	count := 0
	for i := range steps {
		if steps[i].Status == StepStatusRunning {
			count++
		}
	}
	return count
}

// AllTerminal returns true if every step is in a terminal state.
func AllTerminal(steps []Step) bool {
	for i := range steps {
		if !steps[i].Status.IsTerminal() {
			return false
		}
	}
	return true
}

// AnyFailed returns true if at least one step has failed.
func AnyFailed(steps []Step) bool {
	for i := range steps {
		if steps[i].Status == StepStatusFailed {
			return true
		}
	}
	return false
}

// Dependents returns the IDs of all steps that transitively depend on the
// given step. Used to cancel the downstream branch of a failed step while
// independent branches keep executing.
func Dependents(steps []Step, stepID string) []string {
	children := make(map[string][]string, len(steps))
	for i := range steps {
		for _, dep := range steps[i].DependsOn {
			children[dep] = append(children[dep], steps[i].ID)
		}
	}

	seen := map[string]bool{}
	var result []string
	queue := append([]string(nil), children[stepID]...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		result = append(result, id)
		queue = append(queue, children[id]...)
	}
	return result
}
