package store

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS workstations (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    workstation_id  TEXT NOT NULL UNIQUE,
    name            TEXT NOT NULL DEFAULT '',
    location        TEXT NOT NULL DEFAULT '',
    auto_login      INTEGER NOT NULL DEFAULT 0,
    allowed_ips     TEXT NOT NULL DEFAULT '',
    created_at      TEXT NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f000', 'now'))
);

CREATE TABLE IF NOT EXISTS products (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    code        TEXT NOT NULL UNIQUE,
    name        TEXT NOT NULL DEFAULT '',
    created_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f000', 'now'))
);

CREATE TABLE IF NOT EXISTS boms (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    product_id  INTEGER NOT NULL REFERENCES products(id),
    code        TEXT NOT NULL UNIQUE,
    version     TEXT NOT NULL DEFAULT '1'
);

CREATE TABLE IF NOT EXISTS processes (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    code        TEXT NOT NULL UNIQUE,
    name        TEXT NOT NULL DEFAULT '',
    product_id  INTEGER REFERENCES products(id)
);

CREATE TABLE IF NOT EXISTS steps (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    process_id      INTEGER NOT NULL REFERENCES processes(id),
    sequence        INTEGER NOT NULL,
    name            TEXT NOT NULL DEFAULT '',
    workstation_id  TEXT NOT NULL DEFAULT '',
    UNIQUE(process_id, sequence)
);

CREATE TABLE IF NOT EXISTS actions (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    step_id          INTEGER NOT NULL REFERENCES steps(id),
    sequence         INTEGER NOT NULL,
    name             TEXT NOT NULL DEFAULT '',
    action_type      TEXT NOT NULL,
    device_id        TEXT NOT NULL DEFAULT '',
    device_address   TEXT NOT NULL DEFAULT '',
    expected_value   TEXT NOT NULL DEFAULT '',
    validation_rule  TEXT NOT NULL DEFAULT '',
    timeout_ms       INTEGER NOT NULL DEFAULT 0,
    retry_count      INTEGER NOT NULL DEFAULT 0,
    is_required      INTEGER NOT NULL DEFAULT 1,
    parameters       TEXT NOT NULL DEFAULT '{}',
    UNIQUE(step_id, sequence)
);

CREATE TABLE IF NOT EXISTS orders (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    order_number        TEXT NOT NULL UNIQUE,
    production_number   TEXT NOT NULL DEFAULT '',
    product_id          INTEGER NOT NULL REFERENCES products(id),
    process_id          INTEGER NOT NULL REFERENCES processes(id),
    bom_id              INTEGER REFERENCES boms(id),
    quantity            INTEGER NOT NULL DEFAULT 1,
    completed_quantity  INTEGER NOT NULL DEFAULT 0,
    priority            INTEGER NOT NULL DEFAULT 0,
    sequence            INTEGER NOT NULL UNIQUE,
    status              TEXT NOT NULL DEFAULT 'PENDING',
    current_station_id  TEXT NOT NULL DEFAULT '',
    current_step_id     INTEGER,
    planned_date        TEXT,
    notes               TEXT NOT NULL DEFAULT '',
    started_at          TEXT,
    completed_at        TEXT,
    created_at          TEXT NOT NULL,
    updated_at          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);

CREATE TABLE IF NOT EXISTS order_steps (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id        INTEGER NOT NULL REFERENCES orders(id),
    step_id         INTEGER NOT NULL REFERENCES steps(id),
    sequence        INTEGER NOT NULL,
    status          TEXT NOT NULL DEFAULT 'pending',
    workstation_id  TEXT NOT NULL DEFAULT '',
    started_at      TEXT,
    completed_at    TEXT,
    error_message   TEXT NOT NULL DEFAULT '',
    run_token       TEXT NOT NULL DEFAULT '',
    UNIQUE(order_id, step_id)
);

CREATE TABLE IF NOT EXISTS action_logs (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id        INTEGER NOT NULL REFERENCES orders(id),
    order_step_id   INTEGER NOT NULL REFERENCES order_steps(id),
    action_id       INTEGER NOT NULL REFERENCES actions(id),
    attempt         INTEGER NOT NULL,
    result_value    TEXT NOT NULL DEFAULT '',
    success         INTEGER NOT NULL,
    simulated       INTEGER NOT NULL DEFAULT 0,
    duration_ms     INTEGER NOT NULL DEFAULT 0,
    error_message   TEXT NOT NULL DEFAULT '',
    device_id       TEXT NOT NULL DEFAULT '',
    address         TEXT NOT NULL DEFAULT '',
    executed_by     TEXT NOT NULL DEFAULT '',
    created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_action_logs_order ON action_logs(order_id);
CREATE INDEX IF NOT EXISTS idx_action_logs_action ON action_logs(action_id);

CREATE TABLE IF NOT EXISTS order_status_history (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id     INTEGER NOT NULL REFERENCES orders(id),
    from_status  TEXT NOT NULL,
    to_status    TEXT NOT NULL,
    changed_by   TEXT NOT NULL DEFAULT '',
    reason       TEXT NOT NULL DEFAULT '',
    created_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_order_status_history_order ON order_status_history(order_id);

CREATE TABLE IF NOT EXISTS workstation_sessions (
    id                 INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id         TEXT NOT NULL UNIQUE,
    workstation_id     TEXT NOT NULL,
    user_id            TEXT NOT NULL DEFAULT '',
    username           TEXT NOT NULL DEFAULT '',
    client_ip          TEXT NOT NULL DEFAULT '',
    login_time         TEXT NOT NULL,
    last_activity      TEXT NOT NULL,
    logout_time        TEXT,
    is_active          INTEGER NOT NULL DEFAULT 1,
    connected_devices  TEXT NOT NULL DEFAULT '{}'
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_one_active
    ON workstation_sessions(workstation_id) WHERE is_active = 1 AND logout_time IS NULL;

CREATE TABLE IF NOT EXISTS workstation_work_states (
    workstation_id  TEXT PRIMARY KEY,
    state           TEXT NOT NULL DEFAULT '{}',
    is_active       INTEGER NOT NULL DEFAULT 1,
    updated_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS devices (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    device_id       TEXT NOT NULL UNIQUE,
    name            TEXT NOT NULL DEFAULT '',
    device_type     TEXT NOT NULL DEFAULT 'PLC',
    brand           TEXT NOT NULL DEFAULT '',
    model           TEXT NOT NULL DEFAULT '',
    ip_address      TEXT NOT NULL DEFAULT '',
    port            INTEGER NOT NULL DEFAULT 0,
    protocol        TEXT NOT NULL DEFAULT '',
    workstation_id  TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL DEFAULT 'OFFLINE',
    last_heartbeat  TEXT
);

CREATE TABLE IF NOT EXISTS device_templates (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    code           TEXT NOT NULL UNIQUE,
    device_type    TEXT NOT NULL DEFAULT 'PLC',
    brand          TEXT NOT NULL DEFAULT '',
    model          TEXT NOT NULL DEFAULT '',
    protocol       TEXT NOT NULL DEFAULT '',
    default_port   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS workstation_devices (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    instance_id     TEXT NOT NULL UNIQUE,
    workstation_id  TEXT NOT NULL DEFAULT '',
    template_id     INTEGER NOT NULL REFERENCES device_templates(id),
    name            TEXT NOT NULL DEFAULT '',
    ip_address      TEXT NOT NULL DEFAULT '',
    port            INTEGER NOT NULL DEFAULT 0,
    status          TEXT NOT NULL DEFAULT 'OFFLINE',
    last_heartbeat  TEXT
);

CREATE TABLE IF NOT EXISTS outbox (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    topic       TEXT NOT NULL,
    payload     BLOB NOT NULL,
    msg_type    TEXT NOT NULL DEFAULT '',
    retries     INTEGER NOT NULL DEFAULT 0,
    created_at  TEXT NOT NULL,
    sent_at     TEXT
);

CREATE TABLE IF NOT EXISTS admin_users (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    username       TEXT NOT NULL UNIQUE,
    password_hash  TEXT NOT NULL,
    created_at     TEXT NOT NULL
);
`
