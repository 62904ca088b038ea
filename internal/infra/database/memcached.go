package database

import (
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// NewMemcached accepts a comma separated server list.
func NewMemcached(servers string) *memcache.Client {
	list := strings.Split(servers, ",")
	for i := range list {
		list[i] = strings.TrimSpace(list[i])
	}
	client := memcache.New(list...)
	client.Timeout = 500 * time.Millisecond
	client.MaxIdleConns = 16
	return client
}
