package postgresql

// migrations returns the ordered schema migrations for the PostgreSQL layer.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS workflows (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				status TEXT NOT NULL,
				steps JSONB NOT NULL DEFAULT '[]',
				worker_id TEXT,
				engine_workflow_id TEXT,
				schedule TEXT,
				trigger_schema JSONB,
				metadata JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE IF NOT EXISTS executions (
				id TEXT PRIMARY KEY,
				workflow_id TEXT NOT NULL,
				worker_id TEXT,
				status TEXT NOT NULL,
				trigger_type TEXT NOT NULL,
				trigger_data JSONB,
				engine_execution_id TEXT,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				error TEXT
			);

			CREATE INDEX IF NOT EXISTS idx_executions_workflow_id
				ON executions (workflow_id);

			CREATE TABLE IF NOT EXISTS test_cases (
				id TEXT PRIMARY KEY,
				workflow_id TEXT NOT NULL,
				name TEXT NOT NULL,
				mock_trigger_data JSONB,
				mock_step_inputs JSONB,
				expected_outputs JSONB,
				assertions JSONB NOT NULL DEFAULT '[]',
				tags JSONB,
				is_active BOOLEAN NOT NULL DEFAULT TRUE,
				last_run_at TIMESTAMP WITH TIME ZONE,
				last_run_status TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_test_cases_workflow_id
				ON test_cases (workflow_id);

			CREATE TABLE IF NOT EXISTS test_runs (
				id TEXT PRIMARY KEY,
				test_case_id TEXT,
				workflow_id TEXT NOT NULL,
				status TEXT NOT NULL,
				assertions JSONB NOT NULL DEFAULT '[]',
				summary JSONB NOT NULL DEFAULT '{}',
				error TEXT,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX IF NOT EXISTS idx_test_runs_test_case_id
				ON test_runs (test_case_id);

			CREATE INDEX IF NOT EXISTS idx_test_runs_workflow_id
				ON test_runs (workflow_id);

			-- Storage-level enforcement of the single-active-run invariant:
			-- at most one pending or running test run per test case.
			CREATE UNIQUE INDEX IF NOT EXISTS uniq_test_runs_active_per_case
				ON test_runs (test_case_id)
				WHERE status IN ('pending', 'running');

			CREATE TABLE IF NOT EXISTS step_results (
				test_run_id TEXT NOT NULL REFERENCES test_runs (id) ON DELETE CASCADE,
				step_id TEXT NOT NULL,
				step_order INTEGER NOT NULL,
				status TEXT NOT NULL,
				actual_output JSONB,
				expected_output JSONB,
				message TEXT,
				duration_ms BIGINT NOT NULL DEFAULT 0,
				error TEXT,
				recorded_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_step_results_test_run_id
				ON step_results (test_run_id);
		`,
	}
}
