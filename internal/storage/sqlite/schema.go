package sqlite

const schema = `
-- Cards owned by the card store. The engine only reads id and type.
CREATE TABLE IF NOT EXISTS cards (
    id TEXT PRIMARY KEY,
    card_type TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_cards_type ON cards(card_type);

-- Property definitions (relationship, aggregate and user properties)
CREATE TABLE IF NOT EXISTS property_defs (
    name TEXT PRIMARY KEY,
    kind TEXT NOT NULL DEFAULT 'user',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Card types a property is defined on
CREATE TABLE IF NOT EXISTS property_def_types (
    name TEXT NOT NULL,
    card_type TEXT NOT NULL,
    PRIMARY KEY (name, card_type),
    FOREIGN KEY (name) REFERENCES property_defs(name) ON DELETE CASCADE
);

-- Property values. A missing row means not-set.
CREATE TABLE IF NOT EXISTS card_properties (
    card_id TEXT NOT NULL,
    name TEXT NOT NULL,
    value TEXT NOT NULL,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (card_id, name),
    FOREIGN KEY (card_id) REFERENCES cards(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_card_properties_name ON card_properties(name);

-- Tree schemas
CREATE TABLE IF NOT EXISTS tree_schemas (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    version INTEGER NOT NULL DEFAULT 1,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Ordered levels of a tree, position 0 is the root level
CREATE TABLE IF NOT EXISTS tree_levels (
    tree_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    card_type TEXT NOT NULL,
    relationship_property TEXT NOT NULL,
    PRIMARY KEY (tree_id, position),
    FOREIGN KEY (tree_id) REFERENCES tree_schemas(id) ON DELETE CASCADE
);

-- Membership edges. parent_id is '' for root-level members.
CREATE TABLE IF NOT EXISTS tree_edges (
    tree_id TEXT NOT NULL,
    card_id TEXT NOT NULL,
    parent_id TEXT NOT NULL DEFAULT '',
    card_type TEXT NOT NULL,
    rank INTEGER NOT NULL,
    PRIMARY KEY (tree_id, card_id),
    FOREIGN KEY (tree_id) REFERENCES tree_schemas(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_tree_edges_card ON tree_edges(card_id);

-- Aggregate definitions
CREATE TABLE IF NOT EXISTS aggregate_defs (
    id TEXT PRIMARY KEY,
    tree_id TEXT NOT NULL,
    name TEXT NOT NULL,
    node_type TEXT NOT NULL,
    function TEXT NOT NULL,
    source_property TEXT NOT NULL DEFAULT '',
    scope_kind TEXT NOT NULL,
    scope_card_type TEXT NOT NULL DEFAULT '',
    FOREIGN KEY (tree_id) REFERENCES tree_schemas(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_aggregate_defs_tree ON aggregate_defs(tree_id);

-- Pending aggregate work. kind is 'full', 'card' or 'detached'; card_id is
-- '' for a full mark.
CREATE TABLE IF NOT EXISTS dirty_marks (
    tree_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    card_id TEXT NOT NULL DEFAULT '',
    marked_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (tree_id, kind, card_id),
    FOREIGN KEY (tree_id) REFERENCES tree_schemas(id) ON DELETE CASCADE
);

-- Workspace metadata (key/value)
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
