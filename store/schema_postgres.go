package store

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS workstations (
    id              BIGSERIAL PRIMARY KEY,
    workstation_id  TEXT NOT NULL UNIQUE,
    name            TEXT NOT NULL DEFAULT '',
    location        TEXT NOT NULL DEFAULT '',
    auto_login      BOOLEAN NOT NULL DEFAULT FALSE,
    allowed_ips     TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS products (
    id          BIGSERIAL PRIMARY KEY,
    code        TEXT NOT NULL UNIQUE,
    name        TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS boms (
    id          BIGSERIAL PRIMARY KEY,
    product_id  BIGINT NOT NULL REFERENCES products(id),
    code        TEXT NOT NULL UNIQUE,
    version     TEXT NOT NULL DEFAULT '1'
);

CREATE TABLE IF NOT EXISTS processes (
    id          BIGSERIAL PRIMARY KEY,
    code        TEXT NOT NULL UNIQUE,
    name        TEXT NOT NULL DEFAULT '',
    product_id  BIGINT REFERENCES products(id)
);

CREATE TABLE IF NOT EXISTS steps (
    id              BIGSERIAL PRIMARY KEY,
    process_id      BIGINT NOT NULL REFERENCES processes(id),
    sequence        INTEGER NOT NULL,
    name            TEXT NOT NULL DEFAULT '',
    workstation_id  TEXT NOT NULL DEFAULT '',
    UNIQUE(process_id, sequence)
);

CREATE TABLE IF NOT EXISTS actions (
    id               BIGSERIAL PRIMARY KEY,
    step_id          BIGINT NOT NULL REFERENCES steps(id),
    sequence         INTEGER NOT NULL,
    name             TEXT NOT NULL DEFAULT '',
    action_type      TEXT NOT NULL,
    device_id        TEXT NOT NULL DEFAULT '',
    device_address   TEXT NOT NULL DEFAULT '',
    expected_value   TEXT NOT NULL DEFAULT '',
    validation_rule  TEXT NOT NULL DEFAULT '',
    timeout_ms       INTEGER NOT NULL DEFAULT 0,
    retry_count      INTEGER NOT NULL DEFAULT 0,
    is_required      BOOLEAN NOT NULL DEFAULT TRUE,
    parameters       JSONB NOT NULL DEFAULT '{}',
    UNIQUE(step_id, sequence)
);

CREATE TABLE IF NOT EXISTS orders (
    id                  BIGSERIAL PRIMARY KEY,
    order_number        TEXT NOT NULL UNIQUE,
    production_number   TEXT NOT NULL DEFAULT '',
    product_id          BIGINT NOT NULL REFERENCES products(id),
    process_id          BIGINT NOT NULL REFERENCES processes(id),
    bom_id              BIGINT REFERENCES boms(id),
    quantity            INTEGER NOT NULL DEFAULT 1,
    completed_quantity  INTEGER NOT NULL DEFAULT 0,
    priority            INTEGER NOT NULL DEFAULT 0,
    sequence            BIGINT NOT NULL UNIQUE,
    status              TEXT NOT NULL DEFAULT 'PENDING',
    current_station_id  TEXT NOT NULL DEFAULT '',
    current_step_id     BIGINT,
    planned_date        TIMESTAMPTZ,
    notes               TEXT NOT NULL DEFAULT '',
    started_at          TIMESTAMPTZ,
    completed_at        TIMESTAMPTZ,
    created_at          TIMESTAMPTZ NOT NULL,
    updated_at          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);

CREATE TABLE IF NOT EXISTS order_steps (
    id              BIGSERIAL PRIMARY KEY,
    order_id        BIGINT NOT NULL REFERENCES orders(id),
    step_id         BIGINT NOT NULL REFERENCES steps(id),
    sequence        INTEGER NOT NULL,
    status          TEXT NOT NULL DEFAULT 'pending',
    workstation_id  TEXT NOT NULL DEFAULT '',
    started_at      TIMESTAMPTZ,
    completed_at    TIMESTAMPTZ,
    error_message   TEXT NOT NULL DEFAULT '',
    run_token       TEXT NOT NULL DEFAULT '',
    UNIQUE(order_id, step_id)
);

CREATE TABLE IF NOT EXISTS action_logs (
    id              BIGSERIAL PRIMARY KEY,
    order_id        BIGINT NOT NULL REFERENCES orders(id),
    order_step_id   BIGINT NOT NULL REFERENCES order_steps(id),
    action_id       BIGINT NOT NULL REFERENCES actions(id),
    attempt         INTEGER NOT NULL,
    result_value    TEXT NOT NULL DEFAULT '',
    success         BOOLEAN NOT NULL,
    simulated       BOOLEAN NOT NULL DEFAULT FALSE,
    duration_ms     BIGINT NOT NULL DEFAULT 0,
    error_message   TEXT NOT NULL DEFAULT '',
    device_id       TEXT NOT NULL DEFAULT '',
    address         TEXT NOT NULL DEFAULT '',
    executed_by     TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_action_logs_order ON action_logs(order_id);
CREATE INDEX IF NOT EXISTS idx_action_logs_action ON action_logs(action_id);

CREATE TABLE IF NOT EXISTS order_status_history (
    id           BIGSERIAL PRIMARY KEY,
    order_id     BIGINT NOT NULL REFERENCES orders(id),
    from_status  TEXT NOT NULL,
    to_status    TEXT NOT NULL,
    changed_by   TEXT NOT NULL DEFAULT '',
    reason       TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_order_status_history_order ON order_status_history(order_id);

CREATE TABLE IF NOT EXISTS workstation_sessions (
    id                 BIGSERIAL PRIMARY KEY,
    session_id         TEXT NOT NULL UNIQUE,
    workstation_id     TEXT NOT NULL,
    user_id            TEXT NOT NULL DEFAULT '',
    username           TEXT NOT NULL DEFAULT '',
    client_ip          TEXT NOT NULL DEFAULT '',
    login_time         TIMESTAMPTZ NOT NULL,
    last_activity      TIMESTAMPTZ NOT NULL,
    logout_time        TIMESTAMPTZ,
    is_active          BOOLEAN NOT NULL DEFAULT TRUE,
    connected_devices  JSONB NOT NULL DEFAULT '{}'
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_one_active
    ON workstation_sessions(workstation_id) WHERE is_active AND logout_time IS NULL;

CREATE TABLE IF NOT EXISTS workstation_work_states (
    workstation_id  TEXT PRIMARY KEY,
    state           JSONB NOT NULL DEFAULT '{}',
    is_active       BOOLEAN NOT NULL DEFAULT TRUE,
    updated_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS devices (
    id              BIGSERIAL PRIMARY KEY,
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
    last_heartbeat  TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS device_templates (
    id             BIGSERIAL PRIMARY KEY,
    code           TEXT NOT NULL UNIQUE,
    device_type    TEXT NOT NULL DEFAULT 'PLC',
    brand          TEXT NOT NULL DEFAULT '',
    model          TEXT NOT NULL DEFAULT '',
    protocol       TEXT NOT NULL DEFAULT '',
    default_port   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS workstation_devices (
    id              BIGSERIAL PRIMARY KEY,
    instance_id     TEXT NOT NULL UNIQUE,
    workstation_id  TEXT NOT NULL DEFAULT '',
    template_id     BIGINT NOT NULL REFERENCES device_templates(id),
    name            TEXT NOT NULL DEFAULT '',
    ip_address      TEXT NOT NULL DEFAULT '',
    port            INTEGER NOT NULL DEFAULT 0,
    status          TEXT NOT NULL DEFAULT 'OFFLINE',
    last_heartbeat  TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS outbox (
    id          BIGSERIAL PRIMARY KEY,
    topic       TEXT NOT NULL,
    payload     BYTEA NOT NULL,
    msg_type    TEXT NOT NULL DEFAULT '',
    retries     INTEGER NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ NOT NULL,
    sent_at     TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS admin_users (
    id             BIGSERIAL PRIMARY KEY,
    username       TEXT NOT NULL UNIQUE,
    password_hash  TEXT NOT NULL,
    created_at     TIMESTAMPTZ NOT NULL
);
`
