package xerr

import (
	"errors"
	"fmt"
)

// 错误分类。服务层返回的错误都应当通过 errors.Is 归入下面某一类。
var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrUnauthorized       = errors.New("session does not belong to caller")
	ErrNotFound           = errors.New("upload session not found")
	ErrFailedPrecondition = errors.New("failed precondition")
	ErrDataCorruption     = errors.New("chunk data corruption")
	ErrUnavailable        = errors.New("storage unavailable")
)

// 更细分的错误，均包裹上面的分类
var (
	ErrChunkIndexOutOfRange = fmt.Errorf("%w: chunk index out of range", ErrInvalidArgument)
	ErrChunkSizeMismatch    = fmt.Errorf("%w: chunk size mismatch", ErrInvalidArgument)
	ErrFileTooLarge         = fmt.Errorf("%w: file too large", ErrInvalidArgument)
	ErrUploadIncomplete     = fmt.Errorf("%w: not all chunks uploaded", ErrFailedPrecondition)
	ErrUploadFinalized      = fmt.Errorf("%w: upload already finalized", ErrFailedPrecondition)
)

// InvalidArgument 构造带描述的参数错误
func InvalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// Unavailable 把存储层错误归类为不可用, 保留原始错误链
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
