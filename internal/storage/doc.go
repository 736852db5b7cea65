package storage

// Package storage is the durable activity store: missions, squads and the
// slots participants sign up for. SQLite is the single source of truth;
// everything the rest of the bot keeps in memory is a disposable cache
// rebuildable from these tables.
