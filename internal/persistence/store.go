package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"smart-weigher/internal/types"

	_ "modernc.org/sqlite"
)

// Store 将学习结果落盘到 SQLite
// learned_parameters 保存每个料斗最终学到的参数，stage_attempts 保存过程记录
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS learned_parameters (
	run_id         TEXT NOT NULL,
	bucket         INTEGER NOT NULL,
	target_weight  REAL NOT NULL,
	coarse_speed   INTEGER NOT NULL,
	fine_speed     INTEGER NOT NULL,
	coarse_advance REAL NOT NULL,
	fall_value     REAL NOT NULL,
	created_at     TIMESTAMP NOT NULL,
	PRIMARY KEY (run_id, bucket)
);

CREATE TABLE IF NOT EXISTS stage_attempts (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT NOT NULL,
	bucket     INTEGER NOT NULL,
	stage      TEXT NOT NULL,
	attempt    INTEGER NOT NULL,
	compliant  INTEGER NOT NULL,
	message    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
`

// OpenStore 打开（或创建）数据库并初始化表结构
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	// modernc 驱动不支持并发写，单连接即可
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化表结构失败: %w", err)
	}
	return &Store{db: db}, nil
}

// SaveParameters 保存一条最终学习结果
func (s *Store) SaveParameters(ctx context.Context, p types.LearnedParameters) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO learned_parameters
		 (run_id, bucket, target_weight, coarse_speed, fine_speed, coarse_advance, fall_value, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.RunID, int(p.Bucket), p.TargetWeight, p.CoarseSpeed, p.FineSpeed,
		p.CoarseAdvance, p.FallValue, time.Now())
	if err != nil {
		return fmt.Errorf("保存学习结果失败: %w", err)
	}
	return nil
}

// RecordAttempt 记录一次阶段分析尝试
func (s *Store) RecordAttempt(ctx context.Context, runID string, bucket types.BucketID, stage types.LearningStage, attempt int, compliant bool, message string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stage_attempts (run_id, bucket, stage, attempt, compliant, message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, int(bucket), string(stage), attempt, compliant, message, time.Now())
	if err != nil {
		return fmt.Errorf("记录阶段尝试失败: %w", err)
	}
	return nil
}

// LatestParameters 返回某料斗最近一次学习得到的参数
func (s *Store) LatestParameters(ctx context.Context, bucket types.BucketID) (types.LearnedParameters, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, bucket, target_weight, coarse_speed, fine_speed, coarse_advance, fall_value
		 FROM learned_parameters WHERE bucket = ? ORDER BY created_at DESC LIMIT 1`,
		int(bucket))

	var p types.LearnedParameters
	var b int
	if err := row.Scan(&p.RunID, &b, &p.TargetWeight, &p.CoarseSpeed, &p.FineSpeed, &p.CoarseAdvance, &p.FallValue); err != nil {
		if err == sql.ErrNoRows {
			return types.LearnedParameters{}, fmt.Errorf("料斗 %d 尚无学习结果", bucket)
		}
		return types.LearnedParameters{}, fmt.Errorf("查询学习结果失败: %w", err)
	}
	p.Bucket = types.BucketID(b)
	return p, nil
}

// AttemptCount 返回某次任务在某阶段的尝试次数
func (s *Store) AttemptCount(ctx context.Context, runID string, stage types.LearningStage) (int, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM stage_attempts WHERE run_id = ? AND stage = ?`,
		runID, string(stage))
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("查询尝试次数失败: %w", err)
	}
	return n, nil
}

// Close 关闭数据库
func (s *Store) Close() error {
	return s.db.Close()
}
