// Package events is the typed, service-scoped event bus used to deliver
// conversion progress to observers. Observers attach and detach at any time;
// an observer that cannot keep up accumulates a backlog and never holds up
// the publisher or the other observers.
package events
