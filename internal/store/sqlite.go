// 包 store 提供可选的 SQLite 目录：镜像文章索引，并记录已下载的图片。
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"substack-archive/internal/model"
)

// SQLite 封装 *sql.DB，基于 modernc.org/sqlite（纯 Go 实现）。
type SQLite struct {
	db *sql.DB
}

// Stats 为目录汇总。
type Stats struct {
	PostsTotal  int       `json:"posts_total"`
	ImagesTotal int       `json:"images_total"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// OpenSQLite 打开 SQLite 数据库并执行自动迁移。
func OpenSQLite(path string) (*SQLite, error) {
	// modernc sqlite 的 DSN 可直接使用文件路径，或以 'file:...' 前缀表示
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

// Reset 清空业务数据表（不删除数据库文件）。
func (s *SQLite) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM posts`); err != nil {
		return fmt.Errorf("delete posts: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM images`); err != nil {
		return fmt.Errorf("delete images: %w", err)
	}
	return nil
}

// migrate 执行建表语句，保持幂等。
func (s *SQLite) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS posts (
            id INTEGER PRIMARY KEY,
            slug TEXT,
            title TEXT,
            subtitle TEXT,
            date TEXT,
            like_count INTEGER,
            comment_count INTEGER,
            repost_count INTEGER,
            file_link TEXT,
            html_link TEXT,
            archived_at TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS images (
            url TEXT UNIQUE,
            path TEXT,
            created_at TIMESTAMP
        );`,
	}
	for _, q := range stmts {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("exec migrate: %w", err)
		}
	}
	return nil
}

const upsertPostSQL = `INSERT INTO posts(id, slug, title, subtitle, date, like_count, comment_count, repost_count, file_link, html_link, archived_at)
        VALUES(?,?,?,?,?,?,?,?,?,?,?)
        ON CONFLICT(id) DO UPDATE SET slug=excluded.slug, title=excluded.title, subtitle=excluded.subtitle, date=excluded.date,
            like_count=excluded.like_count, comment_count=excluded.comment_count, repost_count=excluded.repost_count,
            file_link=excluded.file_link, html_link=excluded.html_link, archived_at=excluded.archived_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// UpsertPost 插入或更新文章（id 主键）；slug 改名时覆盖旧值。
func (s *SQLite) UpsertPost(ctx context.Context, p model.PostRecord) error {
	return upsertPost(ctx, s.db, p)
}

// UpsertPosts 在一个事务中写入多篇文章。
func (s *SQLite) UpsertPosts(ctx context.Context, recs []model.PostRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	for _, r := range recs {
		if err := upsertPost(ctx, tx, r); err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit posts: %w", err)
	}
	return nil
}

func upsertPost(ctx context.Context, db execer, p model.PostRecord) error {
	if p.ID == 0 {
		return errors.New("post.id required")
	}
	var comments sql.NullInt64
	if p.CommentCount != nil {
		comments = sql.NullInt64{Int64: int64(*p.CommentCount), Valid: true}
	}
	_, err := db.ExecContext(ctx, upsertPostSQL,
		p.ID, p.Slug, p.Title, p.Subtitle, p.Date, p.LikeCount, comments, p.RepostCount, p.FileLink, p.HTMLLink, time.Now())
	if err != nil {
		return fmt.Errorf("upsert post %d: %w", p.ID, err)
	}
	return nil
}

// ListPosts 返回全部文章，按 id 倒序（与索引文件一致）。
func (s *SQLite) ListPosts(ctx context.Context) ([]model.PostRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, slug, title, subtitle, date, like_count, comment_count, repost_count, file_link, html_link FROM posts ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	defer rows.Close()
	var out []model.PostRecord
	for rows.Next() {
		var p model.PostRecord
		var comments sql.NullInt64
		if err := rows.Scan(&p.ID, &p.Slug, &p.Title, &p.Subtitle, &p.Date, &p.LikeCount, &comments, &p.RepostCount, &p.FileLink, &p.HTMLLink); err != nil {
			return nil, fmt.Errorf("scan posts: %w", err)
		}
		if comments.Valid {
			p.CommentCount = model.IntPtr(int(comments.Int64))
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return out, nil
}

// RecordImage 记录图片 URL 对应的本地路径（url 唯一约束）。
func (s *SQLite) RecordImage(ctx context.Context, url, path string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO images(url, path, created_at) VALUES(?,?,?)
        ON CONFLICT(url) DO UPDATE SET path=excluded.path`, url, path, time.Now())
	if err != nil {
		return fmt.Errorf("record image %s: %w", url, err)
	}
	return nil
}

// LookupImage 返回已记录的本地路径；未记录时 ok 为 false。
func (s *SQLite) LookupImage(ctx context.Context, url string) (path string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT path FROM images WHERE url = ?`, url).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup image %s: %w", url, err)
	}
	return path, true, nil
}

// Stats 统计文章与图片数量。
func (s *SQLite) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM posts`).Scan(&st.PostsTotal); err != nil {
		return st, fmt.Errorf("count posts: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM images`).Scan(&st.ImagesTotal); err != nil {
		return st, fmt.Errorf("count images: %w", err)
	}
	st.UpdatedAt = time.Now()
	return st, nil
}
