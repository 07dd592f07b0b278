package store

import "database/sql"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS users(
  id BIGSERIAL PRIMARY KEY,
  username TEXT NOT NULL,
  email TEXT NOT NULL UNIQUE,
  password TEXT NOT NULL,
  role TEXT NOT NULL DEFAULT 'user',
  wallet_address TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS articles(
  id BIGSERIAL PRIMARY KEY,
  title TEXT NOT NULL,
  content TEXT NOT NULL,
  author_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  author_wallet TEXT NOT NULL DEFAULT '',
  verification_status TEXT NOT NULL DEFAULT 'pending',
  transaction_hash TEXT,
  block_number BIGINT,
  content_hash TEXT,
  verified_at TIMESTAMPTZ,
  verification_requested_at TIMESTAMPTZ,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

ALTER TABLE articles
  ADD COLUMN IF NOT EXISTS sentiment_score DOUBLE PRECISION,
  ADD COLUMN IF NOT EXISTS emotional_tone TEXT,
  ADD COLUMN IF NOT EXISTS objectivity_score DOUBLE PRECISION,
  ADD COLUMN IF NOT EXISTS analysis_status TEXT NOT NULL DEFAULT 'pending',
  ADD COLUMN IF NOT EXISTS analysis_updated_at TIMESTAMPTZ,
  ADD COLUMN IF NOT EXISTS sentiment_outcome TEXT NOT NULL DEFAULT '',
  ADD COLUMN IF NOT EXISTS tags_outcome TEXT NOT NULL DEFAULT '',
  ADD COLUMN IF NOT EXISTS analysis_attempted_at TIMESTAMPTZ,
  ADD COLUMN IF NOT EXISTS analysis_requested_at TIMESTAMPTZ;

CREATE TABLE IF NOT EXISTS tags(
  id BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL UNIQUE,
  type TEXT,
  relevance DOUBLE PRECISION,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS article_tags(
  article_id BIGINT NOT NULL REFERENCES articles(id) ON DELETE CASCADE,
  tag_id BIGINT NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
  PRIMARY KEY (article_id, tag_id)
);

CREATE TABLE IF NOT EXISTS analysis_logs(
  id BIGSERIAL PRIMARY KEY,
  article_id BIGINT NOT NULL REFERENCES articles(id) ON DELETE CASCADE,
  service TEXT NOT NULL,
  status TEXT NOT NULL,
  result JSONB,
  error TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_articles_author ON articles(author_id);
CREATE INDEX IF NOT EXISTS idx_articles_created ON articles(created_at);
CREATE INDEX IF NOT EXISTS idx_articles_verification_status ON articles(verification_status);
CREATE INDEX IF NOT EXISTS idx_articles_analysis_status ON articles(analysis_status);
CREATE INDEX IF NOT EXISTS idx_articles_analysis_updated ON articles(analysis_updated_at);
CREATE INDEX IF NOT EXISTS idx_tags_name ON tags(name);
CREATE INDEX IF NOT EXISTS idx_article_tags_tag ON article_tags(tag_id);
CREATE INDEX IF NOT EXISTS idx_analysis_logs_lookup ON analysis_logs(article_id, service, status);
`

// RunMigrations creates or upgrades the schema. Every statement is idempotent.
func RunMigrations(db *sql.DB) error {
	_, err := db.Exec(schemaSQL)
	return err
}
