// internal/pkg/redis/client.go
package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Client 封装 go-redis 的 UniversalClient。
// 传入多个地址时自动使用 Cluster 模式，单个地址时退化为普通客户端。
type Client struct {
	rdb goredis.UniversalClient
}

// NewClient 根据逗号分隔的地址列表创建客户端，并做一次连通性检查。
func NewClient(addrs string) (*Client, error) {
	list := strings.Split(addrs, ",")

	rdb := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:        list,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis %s: %w", addrs, err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient 暴露底层客户端，供需要原生命令的适配器使用。
func (c *Client) GetClient() goredis.UniversalClient {
	return c.rdb
}

// Close 关闭底层连接池。
func (c *Client) Close() error {
	return c.rdb.Close()
}
