package journal

const Schema = `
CREATE TABLE IF NOT EXISTS tick_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME NOT NULL,
	tick_id TEXT NOT NULL,
	instrument TEXT NOT NULL,
	action TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	order_id TEXT NOT NULL DEFAULT '',
	latency_ms REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tick_events_instrument ON tick_events(instrument, timestamp);

CREATE TABLE IF NOT EXISTS orders (
	order_id TEXT PRIMARY KEY,
	instrument TEXT NOT NULL,
	action TEXT NOT NULL,
	entry_price REAL NOT NULL,
	size REAL NOT NULL,
	created_at DATETIME NOT NULL,
	fill_price REAL NOT NULL,
	filled_size REAL NOT NULL,
	acked_at DATETIME NOT NULL
);
`
