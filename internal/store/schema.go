package store

// Answers (correct_answer, selected_answer, answer_keys.answers) and
// section_wise_scores are JSON documents in TEXT columns on both backends.

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS user_roles (
	user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	role TEXT NOT NULL,
	institute_id TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (user_id, role, institute_id)
);

CREATE TABLE IF NOT EXISTS auth_sessions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	created_at DATETIME NOT NULL,
	expires_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS exams (
	id TEXT PRIMARY KEY,
	institute_id TEXT NOT NULL DEFAULT '',
	created_by TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL,
	duration_minutes INTEGER NOT NULL DEFAULT 0,
	negative_marking INTEGER NOT NULL DEFAULT 0,
	show_result_immediately INTEGER NOT NULL DEFAULT 0,
	passing_marks REAL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS sections (
	id TEXT PRIMARY KEY,
	exam_id TEXT NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	order_index INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS questions (
	id TEXT PRIMARY KEY,
	exam_id TEXT NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
	section_id TEXT,
	question_type TEXT NOT NULL,
	question_text TEXT NOT NULL DEFAULT '',
	correct_answer TEXT,
	marks REAL,
	negative_marks REAL,
	order_index INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_questions_exam ON questions(exam_id);

CREATE TABLE IF NOT EXISTS answer_keys (
	id TEXT PRIMARY KEY,
	exam_id TEXT NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
	version INTEGER NOT NULL,
	answers TEXT NOT NULL,
	uploaded_by TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	UNIQUE (exam_id, version)
);

CREATE TABLE IF NOT EXISTS exam_sessions (
	id TEXT PRIMARY KEY,
	exam_id TEXT NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
	student_id TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'in_progress',
	start_time DATETIME NOT NULL,
	end_time DATETIME
);
CREATE INDEX IF NOT EXISTS idx_sessions_exam ON exam_sessions(exam_id);

CREATE TABLE IF NOT EXISTS responses (
	session_id TEXT NOT NULL REFERENCES exam_sessions(id) ON DELETE CASCADE,
	question_id TEXT NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
	selected_answer TEXT,
	is_marked_for_review INTEGER NOT NULL DEFAULT 0,
	time_spent_seconds INTEGER NOT NULL DEFAULT 0,
	answered_at DATETIME,
	PRIMARY KEY (session_id, question_id)
);

CREATE TABLE IF NOT EXISTS results (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL UNIQUE REFERENCES exam_sessions(id) ON DELETE CASCADE,
	exam_id TEXT NOT NULL,
	student_id TEXT NOT NULL,
	total_questions INTEGER NOT NULL,
	attempted INTEGER NOT NULL,
	correct INTEGER NOT NULL,
	wrong INTEGER NOT NULL,
	skipped INTEGER NOT NULL,
	total_marks REAL NOT NULL,
	marks_obtained REAL NOT NULL,
	percentage REAL NOT NULL,
	accuracy REAL NOT NULL,
	section_wise_scores TEXT NOT NULL,
	time_taken_seconds INTEGER NOT NULL,
	is_published INTEGER NOT NULL DEFAULT 0,
	passed INTEGER,
	rank INTEGER,
	percentile REAL,
	evaluated_at DATETIME NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_results_exam ON results(exam_id);

CREATE TABLE IF NOT EXISTS metadata (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS user_roles (
	user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	role TEXT NOT NULL,
	institute_id TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (user_id, role, institute_id)
);

CREATE TABLE IF NOT EXISTS auth_sessions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS exams (
	id TEXT PRIMARY KEY,
	institute_id TEXT NOT NULL DEFAULT '',
	created_by TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL,
	duration_minutes INTEGER NOT NULL DEFAULT 0,
	negative_marking BOOLEAN NOT NULL DEFAULT FALSE,
	show_result_immediately BOOLEAN NOT NULL DEFAULT FALSE,
	passing_marks DOUBLE PRECISION,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS sections (
	id TEXT PRIMARY KEY,
	exam_id TEXT NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	order_index INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS questions (
	id TEXT PRIMARY KEY,
	exam_id TEXT NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
	section_id TEXT,
	question_type TEXT NOT NULL,
	question_text TEXT NOT NULL DEFAULT '',
	correct_answer TEXT,
	marks DOUBLE PRECISION,
	negative_marks DOUBLE PRECISION,
	order_index INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_questions_exam ON questions(exam_id);

CREATE TABLE IF NOT EXISTS answer_keys (
	id TEXT PRIMARY KEY,
	exam_id TEXT NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
	version INTEGER NOT NULL,
	answers TEXT NOT NULL,
	uploaded_by TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (exam_id, version)
);

CREATE TABLE IF NOT EXISTS exam_sessions (
	id TEXT PRIMARY KEY,
	exam_id TEXT NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
	student_id TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'in_progress',
	start_time TIMESTAMPTZ NOT NULL,
	end_time TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_sessions_exam ON exam_sessions(exam_id);

CREATE TABLE IF NOT EXISTS responses (
	session_id TEXT NOT NULL REFERENCES exam_sessions(id) ON DELETE CASCADE,
	question_id TEXT NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
	selected_answer TEXT,
	is_marked_for_review BOOLEAN NOT NULL DEFAULT FALSE,
	time_spent_seconds INTEGER NOT NULL DEFAULT 0,
	answered_at TIMESTAMPTZ,
	PRIMARY KEY (session_id, question_id)
);

CREATE TABLE IF NOT EXISTS results (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL UNIQUE REFERENCES exam_sessions(id) ON DELETE CASCADE,
	exam_id TEXT NOT NULL,
	student_id TEXT NOT NULL,
	total_questions INTEGER NOT NULL,
	attempted INTEGER NOT NULL,
	correct INTEGER NOT NULL,
	wrong INTEGER NOT NULL,
	skipped INTEGER NOT NULL,
	total_marks DOUBLE PRECISION NOT NULL,
	marks_obtained DOUBLE PRECISION NOT NULL,
	percentage DOUBLE PRECISION NOT NULL,
	accuracy DOUBLE PRECISION NOT NULL,
	section_wise_scores TEXT NOT NULL,
	time_taken_seconds BIGINT NOT NULL,
	is_published BOOLEAN NOT NULL DEFAULT FALSE,
	passed BOOLEAN,
	rank INTEGER,
	percentile DOUBLE PRECISION,
	evaluated_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_results_exam ON results(exam_id);

CREATE TABLE IF NOT EXISTS metadata (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`
