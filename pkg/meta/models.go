package meta

import (
	"time"

	"gorm.io/datatypes"
)

// Publication 记录一次 preprocess 发布：by-tag 路径 -> by-checksum 对象
type Publication struct {
	// Tag 是相对于源目录的路径，同时也是 by-tag 下的链接名
	Tag string `gorm:"primaryKey;type:varchar(1024)"`

	// Checksum 指向 by-checksum 下的对象 ("sha256:<hex>")
	Checksum string `gorm:"index;type:varchar(80);not null"`

	SourcePath string `gorm:"type:text"`
	Size       int64

	// URLs 是处理后 manifest 的 org.osbuild.files 映射，方便查询某个包被哪些镜像引用
	URLs datatypes.JSON

	PublishedAt time.Time `gorm:"index"`
}

// TableName 强制指定表名
func (Publication) TableName() string {
	return "publications"
}
