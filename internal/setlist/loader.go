package setlist

import (
	"context"
	"errors"
)

// ErrEventNotFound is returned by a Loader when no event exists for the
// requested id.
var ErrEventNotFound = errors.New("setlist: event not found")

// Loader is the contract to the external event store: given an event id it
// returns the compiled, immutable setlist snapshot for that event.
//
// Implementations must be safe for concurrent use. The core calls LoadEvent
// once per START_SESSION and never mutates the returned snapshot.
type Loader interface {
	LoadEvent(ctx context.Context, eventID string) (*Event, error)
}

// MockLoader serves a fixed in-memory event for any requested id. It backs
// the fallback-to-mock mode so the server can run without a database.
type MockLoader struct {
	// Songs overrides the built-in demo setlist when non-nil.
	Songs []*Song
}

// LoadEvent returns the demo event under the requested id.
func (m *MockLoader) LoadEvent(_ context.Context, eventID string) (*Event, error) {
	songs := m.Songs
	if songs == nil {
		songs = demoSongs()
	}
	return &Event{
		ID:    eventID,
		Name:  "Demo Event",
		Songs: songs,
	}, nil
}

// demoSongs compiles the built-in two-song demo setlist.
func demoSongs() []*Song {
	amazingGrace := "Amazing grace how sweet the sound\n" +
		"That saved a wretch like me\n" +
		"I once was lost but now am found\n" +
		"Was blind but now I see\n" +
		"\n" +
		"'Twas grace that taught my heart to fear\n" +
		"And grace my fears relieved\n" +
		"How precious did that grace appear\n" +
		"The hour I first believed"

	howGreat := "O Lord my God when I in awesome wonder\n" +
		"Consider all the worlds thy hands have made\n" +
		"I see the stars I hear the rolling thunder\n" +
		"Thy power throughout the universe displayed\n" +
		"\n" +
		"Then sings my soul my Saviour God to thee\n" +
		"How great thou art how great thou art"

	cfg := SlideConfig{LinesPerSlide: 2, RespectStanzaBreaks: true}
	return []*Song{
		Compile("demo-amazing-grace", "Amazing Grace", "John Newton", amazingGrace, cfg),
		Compile("demo-how-great", "How Great Thou Art", "", howGreat, cfg),
	}
}
