package events_test

import (
	"fmt"

	"github.com/steveyegge/pubhub/internal/events"
)

// ExampleNewForumFailedEvent demonstrates recording a skipped forum with type-safe data.
func ExampleNewForumFailedEvent() {
	event, _ := events.NewForumFailedEvent("proj-1", "run-1", events.ForumFailedData{
		Forum: "SaaS",
		Class: "transient",
		Error: "status 503",
	})

	data, _ := event.GetForumFailedData()
	fmt.Println(event.Type, data.Forum, data.Class)
	// Output: forum_failed SaaS transient
}

// ExampleState_CanTransition demonstrates walking the scan state machine.
func ExampleState_CanTransition() {
	fmt.Println(events.StateFetching.CanTransition(events.StateScoring))
	fmt.Println(events.StateFetching.CanTransition(events.StatePersisting))
	// Output:
	// true
	// false
}
