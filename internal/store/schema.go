package store

// The geospatial index (positions) and the profile metadata (profiles) are
// separate tables kept in lock-step by transactional writes. The counters
// row survives restarts of the service layer and is reset only by Clear.
const schema = `
CREATE TABLE IF NOT EXISTS positions (
	id  TEXT PRIMARY KEY,
	lat REAL NOT NULL,
	lon REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS profiles (
	id   TEXT PRIMARY KEY,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS counters (
	name  TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);

INSERT OR IGNORE INTO counters (name, value) VALUES ('user_seq', 0);
`

// seqCounter is the persisted counter backing synthesized identities.
const seqCounter = "user_seq"
