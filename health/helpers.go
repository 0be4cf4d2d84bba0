package health

import (
	"fmt"
	"strings"
	"time"
)

// Status values.
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

func newStatus(component, state, message string) Status {
	return Status{
		Component: component,
		Healthy:   state == StateHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy creates a healthy status.
func NewHealthy(component, message string) Status {
	return newStatus(component, StateHealthy, message)
}

// NewUnhealthy creates an unhealthy status.
func NewUnhealthy(component, message string) Status {
	return newStatus(component, StateUnhealthy, message)
}

// NewDegraded creates a degraded status.
func NewDegraded(component, message string) Status {
	return newStatus(component, StateDegraded, message)
}

// Aggregate rolls sub-statuses up into one: any unhealthy entry makes the
// aggregate unhealthy, otherwise any degraded entry degrades it. The
// message names the entries that are not healthy.
func Aggregate(component string, subStatuses []Status) Status {
	if len(subStatuses) == 0 {
		return NewHealthy(component, "Nothing to report")
	}

	var unhealthy, degraded []string
	for _, sub := range subStatuses {
		switch {
		case sub.IsUnhealthy():
			unhealthy = append(unhealthy, sub.Component)
		case sub.IsDegraded():
			degraded = append(degraded, sub.Component)
		}
	}

	var status Status
	switch {
	case len(unhealthy) > 0:
		status = NewUnhealthy(component, summary(len(subStatuses), StateUnhealthy, unhealthy))
	case len(degraded) > 0:
		status = NewDegraded(component, summary(len(subStatuses), StateDegraded, degraded))
	default:
		status = NewHealthy(component, fmt.Sprintf("%d of %d healthy", len(subStatuses), len(subStatuses)))
	}

	status.SubStatuses = make([]Status, len(subStatuses))
	copy(status.SubStatuses, subStatuses)
	return status
}

func summary(total int, state string, names []string) string {
	return fmt.Sprintf("%d of %d %s: %s", len(names), total, state, strings.Join(names, ", "))
}
