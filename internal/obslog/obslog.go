// Package obslog centralizes the logging conventions shared by every
// component: one *logrus.Entry per component, tagged with a
// slash-joined component name the way the teacher's deleted
// constants.go joined its own subsystem names.
package obslog

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// Component joins parts with "/" into a single component name suitable
// for the "component" log field, e.g. Component("tasks", "worker") is
// "tasks/worker".
func Component(parts ...string) string {
	return strings.Join(parts, "/")
}

// New returns a logger entry tagged with the given component name.
func New(component string) *logrus.Entry {
	return logrus.WithField("component", component)
}
