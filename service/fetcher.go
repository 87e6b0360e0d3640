package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/TIANLI0/SegKit/config"
	"github.com/TIANLI0/SegKit/utils"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ImageFetcher 下载 /segment-url 的图片，同一URL的并发下载会合并
type ImageFetcher struct {
	client  *resty.Client
	maxSize int64
	timeout time.Duration
	group   singleflight.Group
}

func NewImageFetcher(cfg *config.FetchConfig) *ImageFetcher {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(cfg.MaxRedirects)).
		SetHeader("User-Agent", "SegKit-Image-Fetcher/1.0")

	return &ImageFetcher{
		client:  client,
		maxSize: cfg.MaxSize,
		timeout: cfg.Timeout,
	}
}

// Fetch 下载图片字节。超时返回 FetchTimeout，无法下载的URL及其他失败返回 FetchFailed
func (f *ImageFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, newError(KindFetchFailed, "failed to download image", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, newError(KindFetchFailed, "failed to download image",
			fmt.Errorf("unsupported image_url %q: must be an absolute http(s) URL", rawURL))
	}

	// 下载与首个调用方的生命周期解耦，各调用方只等待自己的ctx
	ch := f.group.DoChan(rawURL, func() (any, error) {
		return f.download(context.WithoutCancel(ctx), rawURL)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			utils.Logger.Debug("image download shared", zap.String("url", rawURL))
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *ImageFetcher) download(ctx context.Context, rawURL string) ([]byte, error) {
	start := time.Now()
	resp, err := f.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(rawURL)
	if err != nil {
		return nil, classifyFetchError(err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return nil, newError(KindFetchFailed, "failed to download image",
			fmt.Errorf("HTTP %s", resp.Status()))
	}

	limit := f.maxSize
	if limit <= 0 {
		limit = 20 * 1024 * 1024
	}
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, classifyFetchError(err)
	}
	if int64(len(data)) > limit {
		return nil, newError(KindFetchFailed, "failed to download image",
			fmt.Errorf("image exceeds %d bytes", limit))
	}

	utils.Logger.Info("image downloaded",
		zap.String("url", rawURL),
		zap.Int("size", len(data)),
		zap.Duration("duration", time.Since(start)))
	return data, nil
}

func classifyFetchError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return newError(KindFetchTimeout, "timed out downloading image", err)
	}
	return newError(KindFetchFailed, "failed to download image", err)
}
