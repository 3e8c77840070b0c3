package redis

import "strings"

const (
	defaultNamespace  = "meterly"
	idempotencyPrefix = "idempotency"
	cachePrefix       = "cache"
	lockPrefix        = "lock"
)

// IdempotencyKey namespaces a replay record by route scope and client key.
func (c *Client) IdempotencyKey(scope, id string) string {
	return c.key(idempotencyPrefix, scope, id)
}

// CacheKey namespaces read-through cache entries. Empty parts are skipped.
func (c *Client) CacheKey(parts ...string) string {
	return c.key(append([]string{cachePrefix}, parts...)...)
}

// LockKey namespaces a distributed lock.
func (c *Client) LockKey(name string) string {
	return c.key(lockPrefix, name)
}

func (c *Client) key(parts ...string) string {
	ns := c.namespace
	if ns == "" {
		ns = defaultNamespace
	}
	var b strings.Builder
	b.WriteString(ns)
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		b.WriteByte(':')
		b.WriteString(part)
	}
	return b.String()
}
