package sqlstore

// Times are unix nanoseconds; address lists are JSON arrays
const schema = `
CREATE TABLE IF NOT EXISTS emails (
    id INTEGER PRIMARY KEY,
    subject TEXT NOT NULL,
    from_email TEXT NOT NULL,
    to_emails TEXT NOT NULL,
    cc TEXT NOT NULL,
    body TEXT NOT NULL,
    sent BOOLEAN NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    modified_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_emails_created ON emails(created_at DESC, id DESC);

-- position keeps the order in which trades were attached to the email
CREATE TABLE IF NOT EXISTS trades (
    id INTEGER NOT NULL,
    email_id INTEGER NOT NULL,
    position INTEGER NOT NULL,
    is_success BOOLEAN NOT NULL,
    error_message TEXT NOT NULL,
    client_way TEXT NOT NULL,
    currency TEXT NOT NULL,
    isin_code TEXT NOT NULL,
    security_code TEXT NOT NULL,
    notional REAL NOT NULL,
    schema_identifier TEXT NOT NULL,
    schema_type TEXT NOT NULL,
    schema_version TEXT NOT NULL,
    solve_header TEXT NOT NULL,
    client_id TEXT NOT NULL,
    broker_id TEXT NOT NULL,
    quantity REAL NOT NULL,
    price REAL NOT NULL,
    trade_date TEXT NOT NULL,
    settlement_date TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (email_id, id),
    FOREIGN KEY (email_id) REFERENCES emails(id)
);

CREATE INDEX IF NOT EXISTS idx_trades_email ON trades(email_id, position);

-- Identifier counters, never decremented
CREATE TABLE IF NOT EXISTS sequences (
    name TEXT PRIMARY KEY,
    value INTEGER NOT NULL
);

INSERT OR IGNORE INTO sequences (name, value) VALUES ('email', 0), ('trade', 0);
`
