package postgresql

// migrations returns the versioned schema for the gateway tables. The unique
// primary key on tasks.id is what makes TaskRepository.Create an atomic
// duplicate-submission guard.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS workflows (
				id             VARCHAR(50) PRIMARY KEY,
				tenant_id      BIGINT NOT NULL DEFAULT -1,
				name           VARCHAR(100) NOT NULL,
				description    VARCHAR(200) NOT NULL DEFAULT '',
				input_params   JSONB NOT NULL DEFAULT '[]',
				output_params  JSONB NOT NULL DEFAULT '[]',
				input_mapping  JSONB NOT NULL DEFAULT '{}',
				output_mapping JSONB NOT NULL DEFAULT '{}',
				before_hooks   JSONB NOT NULL DEFAULT '[]',
				after_hooks    JSONB NOT NULL DEFAULT '[]',
				template_key   VARCHAR(200) NOT NULL,
				schema_key     VARCHAR(200) NOT NULL DEFAULT '',
				status         VARCHAR(20) NOT NULL DEFAULT 'UNRELEASED',
				created_at     TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at     TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				deleted_at     TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX IF NOT EXISTS idx_workflows_tenant ON workflows (tenant_id) WHERE deleted_at IS NULL;

			CREATE TABLE IF NOT EXISTS tasks (
				id             VARCHAR(50) PRIMARY KEY,
				workflow_id    VARCHAR(50) NOT NULL,
				tenant_id      BIGINT NOT NULL DEFAULT -1,
				input          JSONB NOT NULL DEFAULT '{}',
				output_params  JSONB NOT NULL DEFAULT '[]',
				output_mapping JSONB NOT NULL DEFAULT '{}',
				node           VARCHAR(100) NOT NULL DEFAULT '',
				status_code    INTEGER NOT NULL DEFAULT 0,
				response       TEXT NOT NULL DEFAULT '',
				prompt_id      VARCHAR(50) NOT NULL DEFAULT '',
				duration_ms    BIGINT NOT NULL DEFAULT 0,
				sync           BOOLEAN NOT NULL DEFAULT FALSE,
				status         VARCHAR(20) NOT NULL DEFAULT 'PENDING',
				result         VARCHAR(200) NOT NULL DEFAULT '',
				created_at     TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at     TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_tasks_status_created ON tasks (status, created_at);
		`,
	}
}
