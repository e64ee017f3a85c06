package meta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrPublicationNotFound = errors.New("publication not found")

// Repository 封装所有对发布索引的操作
type Repository struct {
	db *DB
}

func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// NewPublication 构造一条索引记录，urls 序列化为 JSON
func NewPublication(tag, checksum, sourcePath string, size int64, urls map[string]string) (*Publication, error) {
	if urls == nil {
		urls = map[string]string{}
	}
	data, err := json.Marshal(urls)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal urls: %w", err)
	}
	return &Publication{
		Tag:         tag,
		Checksum:    checksum,
		SourcePath:  sourcePath,
		Size:        size,
		URLs:        datatypes.JSON(data),
		PublishedAt: time.Now().UTC(),
	}, nil
}

// RecordPublication 写入或覆盖某个 tag 的最新发布
func (r *Repository) RecordPublication(ctx context.Context, p *Publication) error {
	err := r.db.GetConn().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tag"}},
			DoUpdates: clause.AssignmentColumns([]string{"checksum", "source_path", "size", "urls", "published_at"}),
		}).
		Create(p).Error
	if err != nil {
		return fmt.Errorf("failed to record publication %s: %w", p.Tag, err)
	}
	return nil
}

func (r *Repository) GetPublication(ctx context.Context, tag string) (*Publication, error) {
	var p Publication
	err := r.db.GetConn().WithContext(ctx).
		Where("tag = ?", tag).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPublicationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPublications 按 tag 排序列出发布记录，prefix 为空时列出全部
func (r *Repository) ListPublications(ctx context.Context, prefix string) ([]Publication, error) {
	q := r.db.GetConn().WithContext(ctx).Order("tag")
	if prefix != "" {
		q = q.Where("tag LIKE ? ESCAPE '\\'", escapeLike(prefix)+"%")
	}

	var out []Publication
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// FindByChecksum 返回指向同一对象的所有 tag
func (r *Repository) FindByChecksum(ctx context.Context, checksum string) ([]Publication, error) {
	var out []Publication
	err := r.db.GetConn().WithContext(ctx).
		Where("checksum = ?", checksum).
		Order("tag").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// URLMap 解出记录中的 checksum -> URL 映射
func (p *Publication) URLMap() (map[string]string, error) {
	out := map[string]string{}
	if len(p.URLs) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(p.URLs, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func escapeLike(s string) string {
	var b []byte
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			b = append(b, '\\')
		}
		b = append(b, s[i])
	}
	return string(b)
}
