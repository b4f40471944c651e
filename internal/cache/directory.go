package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/npezzotti/chat-gateway/internal/database"
)

// CachedDirectory serves a user's conversation list from the cache, loading
// it from the underlying directory on a miss. Cache failures are logged and
// the lookup falls through to the directory. Participant lookups always go
// to the directory so presence verification never sees a removed member.
type CachedDirectory struct {
	database.Directory
	cache Cache
	ttl   time.Duration
	log   *log.Logger
}

var _ database.Directory = (*CachedDirectory)(nil)

func NewCachedDirectory(dir database.Directory, c Cache, ttl time.Duration, logger *log.Logger) *CachedDirectory {
	return &CachedDirectory{
		Directory: dir,
		cache:     c,
		ttl:       ttl,
		log:       logger,
	}
}

func conversationsKey(userId int) string {
	return fmt.Sprintf("user:%d:conversations", userId)
}

func (d *CachedDirectory) ConversationsOf(ctx context.Context, userId int) ([]int, error) {
	var ids []int
	key := conversationsKey(userId)
	if d.load(ctx, key, &ids) {
		return ids, nil
	}

	ids, err := d.Directory.ConversationsOf(ctx, userId)
	if err != nil {
		return nil, err
	}

	d.store(ctx, key, ids)
	return ids, nil
}

func (d *CachedDirectory) load(ctx context.Context, key string, v any) bool {
	raw, err := d.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			d.log.Printf("cache get %q: %v", key, err)
		}
		return false
	}

	if err := json.Unmarshal([]byte(raw), v); err != nil {
		d.log.Printf("cache decode %q: %v", key, err)
		return false
	}

	return true
}

func (d *CachedDirectory) store(ctx context.Context, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		d.log.Printf("cache encode %q: %v", key, err)
		return
	}

	if err := d.cache.Set(ctx, key, string(raw), d.ttl); err != nil {
		d.log.Printf("cache set %q: %v", key, err)
	}
}
