package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ScreenLogAI/pkg/logger"
	"ScreenLogAI/pkg/models"
	"ScreenLogAI/pkg/utils"

	"github.com/benbjohnson/clock"
	_ "modernc.org/sqlite"
)

const (
	// dbFileName 数据库文件名
	dbFileName = "screenlog.db"
	// historyDays 构建历史上下文时读取的天数
	historyDays = 3
	// NoHistoryText 没有任何历史记录时的上下文
	NoHistoryText = "暂无历史活动记录"
)

// Manager 存储管理器，按天分区保存活动日志
type Manager struct {
	db     *sql.DB
	dbPath string
	clock  clock.Clock
}

// Option 存储选项
type Option func(*Manager)

// WithClock 注入时间源（"今天" 与保留期计算使用）
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// NewManager 创建存储管理器
func NewManager(dataDir string, opts ...Option) (*Manager, error) {
	// 确保数据目录存在
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, dbFileName)

	// 注意：modernc.org/sqlite 的驱动名称是 "sqlite" 而不是 "sqlite3"
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite 单写者
	db.SetMaxOpenConns(1)

	m := &Manager{
		db:     db,
		dbPath: dbPath,
		clock:  clock.New(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := m.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	return m, nil
}

// initSchema 初始化数据库表结构
func (m *Manager) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS activity_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		day TEXT NOT NULL,
		ts_unix INTEGER NOT NULL,
		timestamp TEXT NOT NULL,
		description TEXT NOT NULL,
		context_json TEXT,
		screenshot_path TEXT,
		model TEXT,
		token_usage_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_activity_day ON activity_logs(day);
	CREATE INDEX IF NOT EXISTS idx_activity_ts ON activity_logs(ts_unix);

	CREATE TABLE IF NOT EXISTS prompt_test_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		source_id INTEGER NOT NULL,
		day TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		prompt TEXT NOT NULL,
		description TEXT NOT NULL,
		original_description TEXT,
		screenshot_path TEXT,
		model TEXT,
		token_usage_json TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_prompt_test_run ON prompt_test_results(run_id);
	`

	_, err := m.db.Exec(schema)
	return err
}

// Close 关闭数据库
func (m *Manager) Close() error {
	return m.db.Close()
}

// Path 数据库文件路径
func (m *Manager) Path() string {
	return m.dbPath
}

// AppendActivity 追加一条活动日志，写入所在日期的分区
func (m *Manager) AppendActivity(log *models.ActivityLog) error {
	contextJSON, err := marshalOptional(log.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal context: %w", err)
	}
	usageJSON, err := marshalOptional(log.TokenUsage)
	if err != nil {
		return fmt.Errorf("failed to marshal token usage: %w", err)
	}

	query := `
		INSERT INTO activity_logs (day, ts_unix, timestamp, description, context_json, screenshot_path, model, token_usage_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := m.db.Exec(query,
		utils.DayKey(log.Timestamp),
		log.Timestamp.UnixNano(),
		log.Timestamp.Format(time.RFC3339Nano),
		log.Description,
		contextJSON,
		nullString(log.ScreenshotPath),
		nullString(log.Model),
		usageJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert activity log: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get insert id: %w", err)
	}

	log.ID = id
	logger.Debug("📝 活动日志已保存: %s #%d", utils.DayKey(log.Timestamp), id)
	return nil
}

const selectColumns = `id, timestamp, description, context_json, screenshot_path, model, token_usage_json`

// LoadDay 读取某一天的活动日志（按时间升序），day 格式 2006-01-02
func (m *Manager) LoadDay(day string) ([]models.ActivityLog, error) {
	if _, err := time.Parse(utils.DayLayout, day); err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", day, err)
	}

	rows, err := m.db.Query(`SELECT `+selectColumns+` FROM activity_logs WHERE day = ? ORDER BY ts_unix ASC, id ASC`, day)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity logs: %w", err)
	}
	defer rows.Close()

	return scanLogs(rows)
}

// LoadRecentDays 读取最近 days 天（含今天）的活动日志，按时间升序
func (m *Manager) LoadRecentDays(days int) ([]models.ActivityLog, error) {
	if days <= 0 {
		return nil, nil
	}

	today := m.clock.Now()
	keys := make([]interface{}, 0, days)
	for i := 0; i < days; i++ {
		keys = append(keys, utils.DayKey(today.AddDate(0, 0, -i)))
	}

	query := `SELECT ` + selectColumns + ` FROM activity_logs WHERE day IN (?` +
		strings.Repeat(",?", days-1) + `) ORDER BY ts_unix ASC, id ASC`

	rows, err := m.db.Query(query, keys...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity logs: %w", err)
	}
	defer rows.Close()

	return scanLogs(rows)
}

// RecentActivityContext 最近 count 条活动（最近三天内）格式化为 AI 可读的历史文本
func (m *Manager) RecentActivityContext(count int) (string, error) {
	logs, err := m.LoadRecentDays(historyDays)
	if err != nil {
		return "", err
	}
	if len(logs) == 0 || count <= 0 {
		return NoHistoryText, nil
	}

	if len(logs) > count {
		logs = logs[len(logs)-count:]
	}
	return FormatHistory(logs), nil
}

// FormatHistory 将活动日志（按时间升序）格式化为历史文本
func FormatHistory(logs []models.ActivityLog) string {
	if len(logs) == 0 {
		return NoHistoryText
	}

	var sb strings.Builder
	sb.WriteString("【用户最近的活动历史】\n")
	for i, l := range logs {
		fmt.Fprintf(&sb, "%d. 时间: %s\n   描述: %s\n\n",
			i+1,
			l.Timestamp.Format("2006-01-02 15:04:05"),
			strings.TrimSpace(l.Description),
		)
	}
	return sb.String()
}

// DeleteOlderThan 删除保留期之前的日志及其截图文件
func (m *Manager) DeleteOlderThan(retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := utils.DayKey(m.clock.Now().AddDate(0, 0, -retentionDays))

	// 首先获取要删除的截图文件路径
	rows, err := m.db.Query(`SELECT screenshot_path FROM activity_logs WHERE day < ? AND screenshot_path IS NOT NULL`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to query old activity logs: %w", err)
	}

	var filePaths []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan file path: %w", err)
		}
		filePaths = append(filePaths, path)
	}
	rows.Close()

	// 删除文件
	for _, path := range filePaths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn("删除截图失败: %s: %v", path, err)
		}
	}

	// 从数据库删除记录
	result, err := m.db.Exec(`DELETE FROM activity_logs WHERE day < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old activity logs: %w", err)
	}
	if _, err := m.db.Exec(`DELETE FROM prompt_test_results WHERE day < ?`, cutoff); err != nil {
		return 0, fmt.Errorf("failed to delete old prompt test results: %w", err)
	}

	return result.RowsAffected()
}

// AppendPromptTest 保存一条提示词测试结果，不影响正式活动日志
func (m *Manager) AppendPromptTest(r *models.PromptTestResult) error {
	usageJSON, err := marshalOptional(r.TokenUsage)
	if err != nil {
		return fmt.Errorf("failed to marshal token usage: %w", err)
	}

	result, err := m.db.Exec(`
		INSERT INTO prompt_test_results (run_id, source_id, day, timestamp, prompt, description, original_description, screenshot_path, model, token_usage_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.RunID,
		r.SourceID,
		utils.DayKey(r.Timestamp),
		r.Timestamp.Format(time.RFC3339Nano),
		r.Prompt,
		r.Description,
		nullString(r.OriginalDescription),
		nullString(r.ScreenshotPath),
		nullString(r.Model),
		usageJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert prompt test result: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get insert id: %w", err)
	}
	r.ID = id
	return nil
}

// LoadPromptTests 读取某次测试的全部结果（按原记录时间升序）
func (m *Manager) LoadPromptTests(runID string) ([]models.PromptTestResult, error) {
	rows, err := m.db.Query(`
		SELECT id, run_id, source_id, timestamp, prompt, description, original_description, screenshot_path, model, token_usage_json
		FROM prompt_test_results WHERE run_id = ? ORDER BY timestamp ASC, id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query prompt test results: %w", err)
	}
	defer rows.Close()

	results := make([]models.PromptTestResult, 0)
	for rows.Next() {
		var (
			r                            models.PromptTestResult
			ts                           string
			original, path, model, usage sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.RunID, &r.SourceID, &ts, &r.Prompt, &r.Description, &original, &path, &model, &usage); err != nil {
			return nil, fmt.Errorf("failed to scan prompt test result: %w", err)
		}
		if r.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("invalid timestamp %q: %w", ts, err)
		}
		r.OriginalDescription = original.String
		r.ScreenshotPath = path.String
		r.Model = model.String
		if usage.Valid && usage.String != "" {
			r.TokenUsage = &models.TokenUsage{}
			if err := json.Unmarshal([]byte(usage.String), r.TokenUsage); err != nil {
				return nil, fmt.Errorf("failed to unmarshal token usage: %w", err)
			}
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// DayCount 某一天的记录数
type DayCount struct {
	Day   string `json:"day"`
	Count int64  `json:"count"`
}

// ListDays 列出有记录的日期（最新在前）
func (m *Manager) ListDays(limit int) ([]DayCount, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := m.db.Query(`SELECT day, COUNT(*) FROM activity_logs GROUP BY day ORDER BY day DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query days: %w", err)
	}
	defer rows.Close()

	var days []DayCount
	for rows.Next() {
		var d DayCount
		if err := rows.Scan(&d.Day, &d.Count); err != nil {
			return nil, fmt.Errorf("failed to scan day: %w", err)
		}
		days = append(days, d)
	}
	return days, rows.Err()
}

// GetStorageStats 获取存储统计信息
func (m *Manager) GetStorageStats() (*models.StorageStats, error) {
	stats := &models.StorageStats{}

	var oldest, newest sql.NullString
	err := m.db.QueryRow(`SELECT COUNT(*), MIN(day), MAX(day) FROM activity_logs`).Scan(
		&stats.TotalEntries,
		&oldest,
		&newest,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}

	if oldest.Valid {
		stats.OldestDate = oldest.String
	}
	if newest.Valid {
		stats.NewestDate = newest.String
	}
	return stats, nil
}

type rowScanner interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanLogs(rows rowScanner) ([]models.ActivityLog, error) {
	logs := make([]models.ActivityLog, 0)
	for rows.Next() {
		var (
			l                               models.ActivityLog
			ts                              string
			contextJSON, path, model, usage sql.NullString
		)
		if err := rows.Scan(&l.ID, &ts, &l.Description, &contextJSON, &path, &model, &usage); err != nil {
			return nil, fmt.Errorf("failed to scan activity log: %w", err)
		}

		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp %q: %w", ts, err)
		}
		l.Timestamp = t
		l.ScreenshotPath = path.String
		l.Model = model.String

		// 反序列化 JSON
		if contextJSON.Valid && contextJSON.String != "" {
			l.Context = &models.SystemContext{}
			if err := json.Unmarshal([]byte(contextJSON.String), l.Context); err != nil {
				return nil, fmt.Errorf("failed to unmarshal context: %w", err)
			}
		}
		if usage.Valid && usage.String != "" {
			l.TokenUsage = &models.TokenUsage{}
			if err := json.Unmarshal([]byte(usage.String), l.TokenUsage); err != nil {
				return nil, fmt.Errorf("failed to unmarshal token usage: %w", err)
			}
		}

		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func marshalOptional(v interface{}) (sql.NullString, error) {
	switch x := v.(type) {
	case *models.SystemContext:
		if x == nil {
			return sql.NullString{}, nil
		}
	case *models.TokenUsage:
		if x == nil {
			return sql.NullString{}, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
