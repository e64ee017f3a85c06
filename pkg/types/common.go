// pkg/types/common.go
package types

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// AlgorithmSHA256 是对象存储唯一支持的摘要算法
const AlgorithmSHA256 = "sha256"

var ErrInvalidChecksum = errors.New("invalid checksum")

// Checksum 代表一个内容地址 "<algorithm>:<hex-digest>"
// 这是一个“值对象”，应当是不可变的。
type Checksum string

func (c Checksum) String() string { return string(c) }

func (c Checksum) IsZero() bool { return c == "" }

// Algorithm 返回冒号前的算法名，格式非法时返回空串
func (c Checksum) Algorithm() string {
	algo, _, ok := strings.Cut(string(c), ":")
	if !ok {
		return ""
	}
	return algo
}

// Hex 返回冒号后的十六进制摘要
func (c Checksum) Hex() string {
	_, digest, ok := strings.Cut(string(c), ":")
	if !ok {
		return ""
	}
	return digest
}

// Validate 检查格式: 算法名非空，摘要为小写 hex。
// sha256 额外要求 64 个字符。
func (c Checksum) Validate() error {
	algo, digest := c.Algorithm(), c.Hex()
	if algo == "" || digest == "" {
		return fmt.Errorf("%w: %q", ErrInvalidChecksum, string(c))
	}
	if strings.ToLower(digest) != digest {
		return fmt.Errorf("%w: digest must be lowercase hex: %q", ErrInvalidChecksum, string(c))
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidChecksum, string(c))
	}
	if algo == AlgorithmSHA256 && len(digest) != 64 {
		return fmt.Errorf("%w: sha256 digest must be 64 hex chars: %q", ErrInvalidChecksum, string(c))
	}
	return nil
}

// NewSHA256 把原始摘要字节包装成 Checksum
func NewSHA256(sum []byte) Checksum {
	return Checksum(AlgorithmSHA256 + ":" + hex.EncodeToString(sum))
}

// ParseChecksum 解析并校验
func ParseChecksum(s string) (Checksum, error) {
	c := Checksum(s)
	if err := c.Validate(); err != nil {
		return "", err
	}
	return c, nil
}
