package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Executions and their state instances
			CREATE TABLE workflow_executions (
				id TEXT PRIMARY KEY,
				app_id TEXT NOT NULL,
				pipeline_execution_id TEXT,
				definition JSONB NOT NULL,
				elements JSONB,
				status VARCHAR(16) NOT NULL,
				error_message TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				ended_at TIMESTAMP WITH TIME ZONE,
				version BIGINT NOT NULL DEFAULT 0
			);

			CREATE INDEX idx_workflow_executions_status ON workflow_executions(status);
			CREATE INDEX idx_workflow_executions_pipeline ON workflow_executions(pipeline_execution_id);

			CREATE TABLE state_execution_instances (
				id TEXT PRIMARY KEY,
				execution_id TEXT NOT NULL,
				state_name TEXT NOT NULL,
				state_type TEXT NOT NULL,
				status VARCHAR(16) NOT NULL,
				parent_instance_id TEXT,
				prev_instance_id TEXT,
				notify_id TEXT,
				branch_index INT NOT NULL DEFAULT 0,
				context_element JSONB,
				elements JSONB,
				state_execution_data JSONB,
				correlation_ids TEXT[],
				wait_id TEXT,
				error_message TEXT,
				timeout_millis BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE,
				expires_at TIMESTAMP WITH TIME ZONE,
				ended_at TIMESTAMP WITH TIME ZONE,
				version BIGINT NOT NULL DEFAULT 0
			);

			CREATE INDEX idx_instances_execution_id ON state_execution_instances(execution_id);
			CREATE INDEX idx_instances_waiting_expiry ON state_execution_instances(expires_at) WHERE status = 'WAITING';
		`,
		2: `
			-- Coordination primitives
			CREATE TABLE barrier_instances (
				id TEXT PRIMARY KEY,
				barrier_key TEXT NOT NULL UNIQUE,
				key JSONB NOT NULL,
				expected INT NOT NULL CHECK (expected > 0),
				arrived INT NOT NULL DEFAULT 0,
				state VARCHAR(16) NOT NULL,
				participants JSONB,
				version BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE resource_constraints (
				id TEXT PRIMARY KEY,
				capacity INT NOT NULL CHECK (capacity > 0),
				strategy VARCHAR(16) NOT NULL DEFAULT 'FIFO',
				next_order BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE constraint_consumers (
				constraint_id TEXT NOT NULL REFERENCES resource_constraints(id) ON DELETE CASCADE,
				consumer_id TEXT NOT NULL,
				permits INT NOT NULL CHECK (permits > 0),
				consumer_order BIGINT NOT NULL,
				state VARCHAR(16) NOT NULL,
				release_entity_id TEXT NOT NULL,
				release_entity_type VARCHAR(32) NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (constraint_id, consumer_id)
			);

			CREATE INDEX idx_constraint_consumers_release_entity ON constraint_consumers(release_entity_id);

			CREATE TABLE wait_groups (
				id TEXT PRIMARY KEY,
				correlation_ids TEXT[] NOT NULL,
				callback JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_wait_groups_correlation_ids ON wait_groups USING GIN (correlation_ids);

			CREATE TABLE notify_responses (
				correlation_id TEXT PRIMARY KEY,
				data JSONB NOT NULL,
				consumed BOOLEAN NOT NULL DEFAULT FALSE,
				received_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_notify_responses_received_at ON notify_responses(received_at);
		`,
	}
}
