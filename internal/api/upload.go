package api

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"time"

	"github.com/dutchcoders/go-clamd"
	"github.com/minio/minio-go/v7"
)

// objectStorage 是处理器对对象存储的最小依赖，测试里用假实现替换。
type objectStorage interface {
	UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (*minio.UploadInfo, error)
	GeneratePresignedURL(ctx context.Context, objectKey string, duration time.Duration) (string, error)
	DeleteObject(ctx context.Context, objectKey string) error
}

// fileScanner 抽象 clamd 扫描，空地址时跳过扫描（本地开发）。
type fileScanner interface {
	Scan(reader io.Reader) error
}

var errMaliciousFile = fmt.Errorf("malicious file detected")

type clamdScanner struct {
	addr string
}

// NewClamdScanner 构造基于 clamd 的扫描器。addr 为空时返回 nil（跳过扫描）。
func NewClamdScanner(addr string) fileScanner {
	if addr == "" {
		return nil
	}
	return &clamdScanner{addr: addr}
}

func (s *clamdScanner) Scan(reader io.Reader) error {
	client := clamd.NewClamd(s.addr)
	abortChan := make(chan bool)
	scanChan, err := client.ScanStream(reader, abortChan)
	if err != nil {
		return fmt.Errorf("scan stream: %w", err)
	}
	defer close(abortChan)

	for result := range scanChan {
		if result.Status != clamd.RES_OK {
			return errMaliciousFile
		}
	}
	return nil
}

// scanAndUpload 先做病毒扫描再上传。扫描需要独立读一遍文件，所以打开两次。
func scanAndUpload(ctx context.Context, scanner fileScanner, store objectStorage, file *multipart.FileHeader, objectKey string) error {
	if scanner != nil {
		reader, err := file.Open()
		if err != nil {
			return fmt.Errorf("open upload: %w", err)
		}
		scanErr := scanner.Scan(reader)
		reader.Close()
		if scanErr != nil {
			return scanErr
		}
	}

	reader, err := file.Open()
	if err != nil {
		return fmt.Errorf("reopen upload: %w", err)
	}
	defer reader.Close()

	contentType := file.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if _, err := store.UploadFile(ctx, objectKey, reader, file.Size, contentType); err != nil {
		return fmt.Errorf("upload %q: %w", objectKey, err)
	}
	return nil
}
