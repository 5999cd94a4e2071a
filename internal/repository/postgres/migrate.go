package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

type migrationStep struct {
	Name string
	SQL  string
}

// migrationSteps renders the schema for the given table names. Every step
// is idempotent.
func migrationSteps(t *TableNames) []migrationStep {
	return []migrationStep{
		{
			Name: "create_table_folders",
			SQL: fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
  id            TEXT        PRIMARY KEY,
  project_id    TEXT        NOT NULL,
  parent_id     TEXT        REFERENCES %[1]s (id),
  name          TEXT        NOT NULL,
  description   TEXT        NOT NULL DEFAULT '',
  path          TEXT        NOT NULL,
  depth         INTEGER     NOT NULL CHECK (depth >= 0),
  sort_order    INTEGER     NOT NULL DEFAULT 0,
  active        BOOLEAN     NOT NULL DEFAULT TRUE,
  public        BOOLEAN     NOT NULL DEFAULT FALSE,
  read_only     BOOLEAN     NOT NULL DEFAULT FALSE,
  tags          TEXT[]      NOT NULL DEFAULT '{}',
  metadata      JSONB,
  created_at    TIMESTAMPTZ NOT NULL,
  created_by    TEXT        NOT NULL,
  updated_at    TIMESTAMPTZ NOT NULL,
  updated_by    TEXT        NOT NULL,
  deleted       BOOLEAN     NOT NULL DEFAULT FALSE,
  deleted_by    TEXT,
  deleted_at    TIMESTAMPTZ,
  delete_reason TEXT,
  version       BIGINT      NOT NULL DEFAULT 1
);`, t.Folders),
		},
		{
			Name: "create_index_folders_sibling_name",
			SQL: fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s
  (project_id, COALESCE(parent_id, ''), lower(btrim(name)))
  WHERE active AND NOT deleted;`, t.Index(t.Folders, IdxSiblingName), t.Folders),
		},
		{
			Name: "create_index_folders_parent",
			SQL:  fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (parent_id);`, t.Index(t.Folders, "parent_idx"), t.Folders),
		},
		{
			Name: "create_table_files",
			SQL: fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  id                  TEXT        PRIMARY KEY,
  project_id          TEXT        NOT NULL,
  folder_id           TEXT        NOT NULL REFERENCES %s (id),
  name                TEXT        NOT NULL,
  extension           TEXT        NOT NULL DEFAULT '',
  mime_type           TEXT        NOT NULL DEFAULT '',
  file_type           TEXT        NOT NULL DEFAULT '',
  current_size        BIGINT      NOT NULL DEFAULT 0 CHECK (current_size >= 0),
  current_hash        TEXT        NOT NULL DEFAULT '',
  current_version_id  TEXT,
  version_count       INTEGER     NOT NULL DEFAULT 0,
  checked_out_by      TEXT,
  checked_out_at      TIMESTAMPTZ,
  expected_checkin_at TIMESTAMPTZ,
  download_count      BIGINT      NOT NULL DEFAULT 0,
  view_count          BIGINT      NOT NULL DEFAULT 0,
  share_count         BIGINT      NOT NULL DEFAULT 0,
  last_accessed_at    TIMESTAMPTZ,
  last_accessed_by    TEXT,
  tags                TEXT[]      NOT NULL DEFAULT '{}',
  metadata            JSONB,
  created_at          TIMESTAMPTZ NOT NULL,
  created_by          TEXT        NOT NULL,
  updated_at          TIMESTAMPTZ NOT NULL,
  updated_by          TEXT        NOT NULL,
  deleted             BOOLEAN     NOT NULL DEFAULT FALSE,
  deleted_by          TEXT,
  deleted_at          TIMESTAMPTZ,
  delete_reason       TEXT,
  version             BIGINT      NOT NULL DEFAULT 1
);`, t.Files, t.Folders),
		},
		{
			Name: "create_index_files_folder_name",
			SQL: fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s
  (folder_id, lower(btrim(name)))
  WHERE NOT deleted;`, t.Index(t.Files, IdxFileName), t.Files),
		},
		{
			Name: "create_index_files_overdue",
			SQL: fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (expected_checkin_at)
  WHERE checked_out_by IS NOT NULL;`, t.Index(t.Files, "checkout_idx"), t.Files),
		},
		{
			Name: "create_table_file_versions",
			SQL: fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  id              TEXT        PRIMARY KEY,
  file_id         TEXT        NOT NULL REFERENCES %s (id),
  version_number  INTEGER     NOT NULL CHECK (version_number >= 1),
  label           TEXT        NOT NULL DEFAULT '',
  change_type     TEXT        NOT NULL,
  size            BIGINT      NOT NULL CHECK (size >= 0),
  hash            TEXT        NOT NULL,
  storage_locator TEXT        NOT NULL,
  notes           TEXT        NOT NULL DEFAULT '',
  is_current      BOOLEAN     NOT NULL DEFAULT FALSE,
  created_at      TIMESTAMPTZ NOT NULL,
  created_by      TEXT        NOT NULL,
  updated_at      TIMESTAMPTZ NOT NULL,
  updated_by      TEXT        NOT NULL,
  deleted         BOOLEAN     NOT NULL DEFAULT FALSE,
  deleted_by      TEXT,
  deleted_at      TIMESTAMPTZ,
  delete_reason   TEXT,
  version         BIGINT      NOT NULL DEFAULT 1
);`, t.FileVersions, t.Files),
		},
		{
			Name: "create_index_file_versions_number",
			SQL: fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (file_id, version_number);`,
				t.Index(t.FileVersions, IdxVersionNumber), t.FileVersions),
		},
		{
			Name: "create_index_file_versions_current",
			SQL: fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (file_id) WHERE is_current;`,
				t.Index(t.FileVersions, IdxCurrent), t.FileVersions),
		},
		{
			Name: "create_table_file_permissions",
			SQL: fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  id            TEXT        PRIMARY KEY,
  file_id       TEXT        NOT NULL REFERENCES %s (id),
  subject_kind  TEXT        NOT NULL CHECK (subject_kind IN ('user', 'role', 'public')),
  subject_id    TEXT        NOT NULL DEFAULT '',
  capabilities  INTEGER     NOT NULL CHECK (capabilities > 0),
  active        BOOLEAN     NOT NULL DEFAULT TRUE,
  granted_by    TEXT        NOT NULL,
  granted_at    TIMESTAMPTZ NOT NULL,
  revoked_by    TEXT,
  revoked_at    TIMESTAMPTZ,
  revoke_reason TEXT,
  expires_at    TIMESTAMPTZ,
  notes         TEXT        NOT NULL DEFAULT '',
  created_at    TIMESTAMPTZ NOT NULL,
  created_by    TEXT        NOT NULL,
  updated_at    TIMESTAMPTZ NOT NULL,
  updated_by    TEXT        NOT NULL,
  deleted       BOOLEAN     NOT NULL DEFAULT FALSE,
  deleted_by    TEXT,
  deleted_at    TIMESTAMPTZ,
  delete_reason TEXT,
  version       BIGINT      NOT NULL DEFAULT 1
);`, t.FilePermissions, t.Files),
		},
		{
			Name: "create_index_file_permissions_active",
			SQL: fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (file_id, subject_kind, subject_id)
  WHERE active AND NOT deleted;`, t.Index(t.FilePermissions, IdxActiveGrant), t.FilePermissions),
		},
		{
			Name: "create_table_file_shares",
			SQL: fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  id                TEXT        PRIMARY KEY,
  file_id           TEXT        NOT NULL REFERENCES %s (id),
  token             TEXT        NOT NULL,
  share_type        TEXT        NOT NULL,
  recipient         TEXT        NOT NULL DEFAULT '',
  password_hash     TEXT,
  capabilities      INTEGER     NOT NULL,
  max_downloads     BIGINT      CHECK (max_downloads >= 1),
  max_views         BIGINT      CHECK (max_views >= 1),
  current_downloads BIGINT      NOT NULL DEFAULT 0,
  current_views     BIGINT      NOT NULL DEFAULT 0,
  expires_at        TIMESTAMPTZ,
  active            BOOLEAN     NOT NULL DEFAULT TRUE,
  message           TEXT        NOT NULL DEFAULT '',
  last_accessed_at  TIMESTAMPTZ,
  last_accessed_by  TEXT,
  last_accessed_ip  TEXT,
  created_at        TIMESTAMPTZ NOT NULL,
  created_by        TEXT        NOT NULL,
  updated_at        TIMESTAMPTZ NOT NULL,
  updated_by        TEXT        NOT NULL,
  deleted           BOOLEAN     NOT NULL DEFAULT FALSE,
  deleted_by        TEXT,
  deleted_at        TIMESTAMPTZ,
  delete_reason     TEXT,
  version           BIGINT      NOT NULL DEFAULT 1
);`, t.FileShares, t.Files),
		},
		{
			Name: "create_index_file_shares_token",
			SQL: fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (token);`,
				t.Index(t.FileShares, IdxShareToken), t.FileShares),
		},
		{
			Name: "create_table_file_share_access",
			SQL: fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  id             TEXT        PRIMARY KEY,
  share_id       TEXT        NOT NULL REFERENCES %s (id),
  access_type    TEXT        NOT NULL,
  accessed_at    TIMESTAMPTZ NOT NULL,
  accessed_by    TEXT,
  ip_address     TEXT        NOT NULL DEFAULT '',
  user_agent     TEXT        NOT NULL DEFAULT '',
  referer        TEXT        NOT NULL DEFAULT '',
  success        BOOLEAN     NOT NULL,
  failure_reason TEXT
);`, t.ShareAccess, t.FileShares),
		},
		{
			Name: "create_index_file_share_access_share",
			SQL: fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (share_id, accessed_at);`,
				t.Index(t.ShareAccess, "share_idx"), t.ShareAccess),
		},
	}
}

// Migrate creates any missing tables and indexes in a single transaction
func Migrate(ctx context.Context, pool Pool, tables *TableNames, logger *slog.Logger) error {
	start := time.Now()
	steps := migrationSteps(tables)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }() // no-op after commit

	for _, step := range steps {
		if _, err := tx.Exec(ctx, step.SQL); err != nil {
			logger.Error("migration step failed", "step", step.Name, "error", err)
			return fmt.Errorf("migration step %s: %w", step.Name, err)
		}
		logger.Debug("migration step applied", "step", step.Name)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}

	logger.Info("schema migrated",
		"steps", len(steps),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}
