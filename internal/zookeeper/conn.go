// internal/zookeeper/conn.go
package zookeeper

import (
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
)

// Conn 是对 zk.Conn 的轻量封装，统一连接参数。
type Conn struct {
	*zk.Conn
}

// Connect 建立到 ZooKeeper 集群的连接。servers 格式为 "host1:2181,host2:2181"。
func Connect(servers string) (*Conn, error) {
	conn, _, err := zk.Connect(strings.Split(servers, ","), 10*time.Second)
	if err != nil {
		return nil, err
	}
	return &Conn{Conn: conn}, nil
}
