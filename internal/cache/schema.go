package cache

// schema is applied on every open; all statements are idempotent so existing
// databases pass through unchanged.
const schema = `
CREATE TABLE IF NOT EXISTS artifacts (
	fingerprint    TEXT PRIMARY KEY,
	language       TEXT NOT NULL,
	transform_code TEXT NOT NULL,
	test_code      TEXT NOT NULL,
	repaired       INTEGER NOT NULL DEFAULT 0,
	verdict        TEXT NOT NULL,
	created_at     TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS attempts (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	fingerprint TEXT NOT NULL,
	attempt     INTEGER NOT NULL,
	origin      TEXT NOT NULL,
	verdict     TEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_attempts_fingerprint ON attempts(fingerprint);
`
