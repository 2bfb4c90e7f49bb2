package config

import (
	"fmt"
	"strings"
)

// Dependencies returns, for each scenario name, the scenarios that must
// terminate before it may start. Edges come from three sources:
//
//   - explicit after lists
//   - scenarios sharing a group, chained in declaration order
//   - options.sequential, chaining every scenario in declaration order
//
// An unknown reference or a cycle is reported as a *ValidationError.
func (c *TestConfig) Dependencies() (map[string][]string, error) {
	deps := make(map[string][]string, len(c.Scenarios))
	known := make(map[string]bool, len(c.Scenarios))
	for _, sc := range c.Scenarios {
		known[sc.Name] = true
		deps[sc.Name] = nil
	}

	add := func(from, to string) {
		for _, existing := range deps[from] {
			if existing == to {
				return
			}
		}
		deps[from] = append(deps[from], to)
	}

	lastInGroup := make(map[string]string)
	var prev string
	for _, sc := range c.Scenarios {
		for _, dep := range sc.After {
			if !known[dep] {
				return nil, &ValidationError{
					Field:   fmt.Sprintf("scenarios.%s.after", sc.Name),
					Message: fmt.Sprintf("unknown scenario: %s", dep),
				}
			}
			add(sc.Name, dep)
		}

		if sc.Group != "" {
			if last, ok := lastInGroup[sc.Group]; ok {
				add(sc.Name, last)
			}
			lastInGroup[sc.Group] = sc.Name
		}

		if c.Options != nil && c.Options.Sequential && prev != "" {
			add(sc.Name, prev)
		}
		prev = sc.Name
	}

	if cycle := findCycle(c.Scenarios.Names(), deps); cycle != nil {
		return nil, &ValidationError{
			Field:   "scenarios",
			Message: "dependency cycle: " + strings.Join(cycle, " -> "),
		}
	}

	return deps, nil
}

// findCycle returns the first cycle found by depth-first search, with the
// starting node repeated at the end, or nil.
func findCycle(order []string, deps map[string][]string) []string {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(order))
	var stack []string

	var visit func(name string) []string
	visit = func(name string) []string {
		state[name] = visiting
		stack = append(stack, name)
		for _, dep := range deps[name] {
			switch state[dep] {
			case visiting:
				for i, n := range stack {
					if n == dep {
						cycle := append([]string{}, stack[i:]...)
						return append(cycle, dep)
					}
				}
			case unvisited:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[name] = done
		return nil
	}

	for _, name := range order {
		if state[name] == unvisited {
			if cycle := visit(name); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}
