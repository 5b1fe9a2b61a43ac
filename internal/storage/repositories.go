package storage

// Repositories bundles the typed repositories that share one Store
type Repositories struct {
	Store      Store
	Profiles   *Profiles
	Projects   *Projects
	Feed       *FeedStore
	Watermarks *Watermarks
	Events     *Events
}

// NewRepositories wires every repository over store
func NewRepositories(store Store) *Repositories {
	profiles := NewProfiles(store)
	feed := NewFeedStore(store)
	return &Repositories{
		Store:      store,
		Profiles:   profiles,
		Projects:   NewProjects(store, profiles, feed),
		Feed:       feed,
		Watermarks: NewWatermarks(store),
		Events:     NewEvents(store),
	}
}

// Close closes the underlying store
func (r *Repositories) Close() error {
	return r.Store.Close()
}
