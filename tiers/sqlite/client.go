// Package sqlite는 Durable 계층의 SQLite 백엔드를 구현합니다.
// 단일 프로세스 배포나 테스트에서 PostgreSQL 대신 사용합니다.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tenantsec/tcache/core"
)

// =============================================================================
// Client: Durable 계층 SQLite 클라이언트
// =============================================================================
// 로컬 파일 하나에 엔트리를 저장합니다. WAL 모드로 동시 읽기/쓰기
// 성능을 확보하고, 만료된 행은 주기 정리 루프가 삭제합니다.
// =============================================================================

// Config는 SQLite 클라이언트 설정입니다.
type Config struct {
	// Path는 데이터베이스 파일 경로입니다. ":memory:"면 인메모리입니다.
	Path string

	// Table은 캐시 테이블 이름입니다.
	Table string

	// CleanupInterval은 만료 행 정리 주기입니다. 0이면 정리하지 않습니다.
	CleanupInterval time.Duration

	// WALMode는 WAL 저널링 사용 여부입니다.
	WALMode bool
}

// DefaultConfig는 기본 설정을 반환합니다.
func DefaultConfig() *Config {
	return &Config{
		Path:            "tcache.db",
		Table:           "cache_entries",
		CleanupInterval: 5 * time.Minute,
		WALMode:         true,
	}
}

// Client는 Durable 계층의 SQLite 클라이언트입니다.
type Client struct {
	config *Config
	db     *sql.DB

	mu        sync.RWMutex
	connected bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// New는 새로운 SQLite 클라이언트를 생성합니다.
func New(config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Table == "" {
		config.Table = "cache_entries"
	}
	return &Client{
		config: config,
		stopCh: make(chan struct{}),
	}
}

// Name은 백엔드 이름을 반환합니다.
func (c *Client) Name() string { return "sqlite" }

// Level은 담당 계층을 반환합니다.
func (c *Client) Level() core.TierLevel { return core.TierDurable }

// Connect는 데이터베이스 파일을 열고 테이블을 준비합니다.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	if c.config.Path != ":memory:" {
		if dir := filepath.Dir(c.config.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create directory failed: %w", err)
			}
		}
	}

	dsn := c.config.Path
	if c.config.WALMode && c.config.Path != ":memory:" {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return fmt.Errorf("sqlite open failed: %w", err)
	}

	// SQLite는 단일 쓰기 잠금이므로 연결 수를 제한합니다.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return core.MarkTransient(fmt.Errorf("sqlite ping failed: %w", err))
	}

	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			key         TEXT PRIMARY KEY,
			entry       BLOB NOT NULL,
			entity_type TEXT NOT NULL DEFAULT '',
			expires_at  INTEGER,
			updated_at  INTEGER NOT NULL
		)`, c.config.Table)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return fmt.Errorf("sqlite create table failed: %w", err)
	}

	idx := fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s_expires_idx ON %s (expires_at)`,
		c.config.Table, c.config.Table)
	if _, err := db.ExecContext(ctx, idx); err != nil {
		_ = db.Close()
		return fmt.Errorf("sqlite create index failed: %w", err)
	}

	c.db = db
	c.connected = true

	if c.config.CleanupInterval > 0 {
		c.wg.Add(1)
		go c.cleanupLoop()
	}
	return nil
}

// Close는 정리 루프를 중단하고 파일을 닫습니다.
func (c *Client) Close(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}
	c.connected = false
	close(c.stopCh)
	c.wg.Wait()
	return c.db.Close()
}

// Get은 키를 조회합니다. 만료된 행은 미발견으로 처리합니다.
func (c *Client) Get(ctx context.Context, key string) (*core.Entry, bool, error) {
	query := fmt.Sprintf(
		`SELECT entry FROM %s WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)`,
		c.config.Table)

	var data []byte
	err := c.db.QueryRowContext(ctx, query, key, time.Now().UnixNano()).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, core.MarkTransient(fmt.Errorf("sqlite get failed: %w", err))
	}

	var entry core.Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		_, _ = c.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE key = ?`, c.config.Table), key)
		return nil, false, nil
	}
	return &entry, true, nil
}

// Set은 엔트리를 upsert합니다.
func (c *Client) Set(ctx context.Context, entry *core.Entry) error {
	if entry == nil || entry.Key == "" {
		return core.ErrEmptyKey
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("entry marshal failed: %w", err)
	}

	var expiresAt interface{}
	if !entry.ExpiresAt.IsZero() {
		expiresAt = entry.ExpiresAt.UnixNano()
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (key, entry, entity_type, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			entry = excluded.entry,
			entity_type = excluded.entity_type,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`, c.config.Table)

	if _, err := c.db.ExecContext(ctx, query, entry.Key, data, entry.EntityType, expiresAt, time.Now().UnixNano()); err != nil {
		return core.MarkTransient(fmt.Errorf("sqlite set failed: %w", err))
	}
	return nil
}

// Remove는 키를 삭제합니다.
func (c *Client) Remove(ctx context.Context, key string) (bool, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = ?`, c.config.Table)
	result, err := c.db.ExecContext(ctx, query, key)
	if err != nil {
		return false, core.MarkTransient(fmt.Errorf("sqlite delete failed: %w", err))
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// RemoveByPrefix는 접두사와 일치하는 키를 삭제합니다.
func (c *Client) RemoveByPrefix(ctx context.Context, prefix string) (int, error) {
	if prefix == "" {
		return 0, core.ErrEmptyKey
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE key LIKE ? ESCAPE '\'`, c.config.Table)
	result, err := c.db.ExecContext(ctx, query, escapeLike(prefix)+"%")
	if err != nil {
		return 0, core.MarkTransient(fmt.Errorf("sqlite prefix delete failed: %w", err))
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// Health는 연결과 행 수를 점검합니다.
func (c *Client) Health(ctx context.Context) (*core.TierHealth, error) {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()

	if !connected {
		return &core.TierHealth{Healthy: false, ItemCount: -1, Message: "not connected"}, nil
	}

	start := time.Now()
	if err := c.db.PingContext(ctx); err != nil {
		return &core.TierHealth{
			Healthy:   false,
			Latency:   time.Since(start),
			ItemCount: -1,
			Message:   err.Error(),
		}, nil
	}

	health := &core.TierHealth{
		Healthy:   true,
		Latency:   time.Since(start),
		ItemCount: -1,
	}

	var count int64
	query := fmt.Sprintf(`SELECT count(*) FROM %s`, c.config.Table)
	if err := c.db.QueryRowContext(ctx, query).Scan(&count); err == nil {
		health.ItemCount = count
	}
	return health, nil
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

func (c *Client) cleanupLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			query := fmt.Sprintf(
				`DELETE FROM %s WHERE expires_at IS NOT NULL AND expires_at <= ?`,
				c.config.Table)
			_, _ = c.db.ExecContext(ctx, query, time.Now().UnixNano())
			cancel()
		}
	}
}
