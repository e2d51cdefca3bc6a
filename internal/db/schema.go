package db

// SchemaSQL defines the tables holding AI state: batches, jobs, the batch
// activity log, NER extractions and entities, and description suggestions.
// Catalog records live in the catalog database and are referenced by integer id.
const SchemaSQL = `
    -- ==========================================================================
    -- BATCH TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS batch SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS name ON batch TYPE string;
    DEFINE FIELD IF NOT EXISTS description ON batch TYPE string DEFAULT '';
    DEFINE FIELD IF NOT EXISTS task_types ON batch TYPE array<string>;
    DEFINE FIELD IF NOT EXISTS status ON batch TYPE string
        ASSERT $value IN ['pending', 'running', 'paused', 'completed', 'failed', 'cancelled'];
    DEFINE FIELD IF NOT EXISTS priority ON batch TYPE int DEFAULT 5;
    DEFINE FIELD IF NOT EXISTS total_items ON batch TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS completed_items ON batch TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS failed_items ON batch TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS max_concurrent ON batch TYPE int DEFAULT 5;
    DEFINE FIELD IF NOT EXISTS delay_between_ms ON batch TYPE int DEFAULT 1000;
    DEFINE FIELD IF NOT EXISTS max_retries ON batch TYPE int DEFAULT 3;
    DEFINE FIELD IF NOT EXISTS options ON batch TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS created_by ON batch TYPE string DEFAULT '';
    DEFINE FIELD IF NOT EXISTS created_at ON batch TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS started_at ON batch TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS completed_at ON batch TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS updated_at ON batch TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS batch_status ON batch FIELDS status;
    DEFINE INDEX IF NOT EXISTS batch_created_by ON batch FIELDS created_by;

    -- ==========================================================================
    -- JOB TABLE
    -- ==========================================================================
    -- seq keeps insertion order inside a batch for stable queue ordering
    DEFINE TABLE IF NOT EXISTS job SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS batch_id ON job TYPE string;
    DEFINE FIELD IF NOT EXISTS object_id ON job TYPE int;
    DEFINE FIELD IF NOT EXISTS task_type ON job TYPE string;
    DEFINE FIELD IF NOT EXISTS status ON job TYPE string
        ASSERT $value IN ['pending', 'queued', 'running', 'completed', 'failed', 'skipped', 'cancelled'];
    DEFINE FIELD IF NOT EXISTS priority ON job TYPE int DEFAULT 5;
    DEFINE FIELD IF NOT EXISTS seq ON job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS attempt_count ON job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS processing_time_ms ON job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS error_message ON job TYPE string DEFAULT '';
    DEFINE FIELD IF NOT EXISTS error_code ON job TYPE string DEFAULT '';
    DEFINE FIELD IF NOT EXISTS result ON job TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS created_at ON job TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS queued_at ON job TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS started_at ON job TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS completed_at ON job TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS lease_expires_at ON job TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS updated_at ON job TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS job_batch_status ON job FIELDS batch_id, status;
    DEFINE INDEX IF NOT EXISTS job_status ON job FIELDS status;

    -- ==========================================================================
    -- JOB_LOG TABLE (append-only batch activity)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS job_log SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS batch_id ON job_log TYPE string;
    DEFINE FIELD IF NOT EXISTS job_id ON job_log TYPE string DEFAULT '';
    DEFINE FIELD IF NOT EXISTS event_type ON job_log TYPE string;
    DEFINE FIELD IF NOT EXISTS message ON job_log TYPE string DEFAULT '';
    DEFINE FIELD IF NOT EXISTS created_at ON job_log TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS job_log_batch ON job_log FIELDS batch_id;

    -- ==========================================================================
    -- NER TABLES
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS ner_extraction SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS object_id ON ner_extraction TYPE int;
    DEFINE FIELD IF NOT EXISTS backend ON ner_extraction TYPE string;
    DEFINE FIELD IF NOT EXISTS status ON ner_extraction TYPE string;
    DEFINE FIELD IF NOT EXISTS entity_count ON ner_extraction TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS extracted_at ON ner_extraction TYPE datetime DEFAULT time::now();

    DEFINE TABLE IF NOT EXISTS ner_entity SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS extraction_id ON ner_entity TYPE string DEFAULT '';
    DEFINE FIELD IF NOT EXISTS object_id ON ner_entity TYPE int;
    DEFINE FIELD IF NOT EXISTS type ON ner_entity TYPE string;
    DEFINE FIELD IF NOT EXISTS value ON ner_entity TYPE string;
    DEFINE FIELD IF NOT EXISTS original_value ON ner_entity TYPE string DEFAULT '';
    DEFINE FIELD IF NOT EXISTS original_type ON ner_entity TYPE string DEFAULT '';
    DEFINE FIELD IF NOT EXISTS correction_type ON ner_entity TYPE string DEFAULT '';
    DEFINE FIELD IF NOT EXISTS confidence ON ner_entity TYPE float DEFAULT 1.0;
    DEFINE FIELD IF NOT EXISTS status ON ner_entity TYPE string
        ASSERT $value IN ['pending', 'approved', 'linked', 'rejected'];
    DEFINE FIELD IF NOT EXISTS linked_target_id ON ner_entity TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS seq ON ner_entity TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS reviewed_at ON ner_entity TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS created_at ON ner_entity TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS ner_entity_object_status ON ner_entity FIELDS object_id, status;

    -- ==========================================================================
    -- SUGGESTION TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS suggestion SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS object_id ON suggestion TYPE int;
    DEFINE FIELD IF NOT EXISTS suggested_text ON suggestion TYPE string;
    DEFINE FIELD IF NOT EXISTS existing_text ON suggestion TYPE string DEFAULT '';
    DEFINE FIELD IF NOT EXISTS edited_text ON suggestion TYPE string DEFAULT '';
    DEFINE FIELD IF NOT EXISTS template_name ON suggestion TYPE string DEFAULT '';
    DEFINE FIELD IF NOT EXISTS source_fields ON suggestion TYPE array<string> DEFAULT [];
    DEFINE FIELD IF NOT EXISTS has_ocr ON suggestion TYPE bool DEFAULT false;
    DEFINE FIELD IF NOT EXISTS status ON suggestion TYPE string
        ASSERT $value IN ['pending', 'approved', 'edited', 'rejected'];
    DEFINE FIELD IF NOT EXISTS model_used ON suggestion TYPE string DEFAULT '';
    DEFINE FIELD IF NOT EXISTS tokens_used ON suggestion TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS generation_time_ms ON suggestion TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS review_notes ON suggestion TYPE string DEFAULT '';
    DEFINE FIELD IF NOT EXISTS reviewed_by ON suggestion TYPE string DEFAULT '';
    DEFINE FIELD IF NOT EXISTS reviewed_at ON suggestion TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS created_by ON suggestion TYPE string DEFAULT '';
    DEFINE FIELD IF NOT EXISTS created_at ON suggestion TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS expires_at ON suggestion TYPE option<datetime>;

    DEFINE INDEX IF NOT EXISTS suggestion_object_status ON suggestion FIELDS object_id, status;
`
