package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const (
	idempotenceHeader = "X-Idempotence-Key"
	idempotenceTTL    = 60 * time.Second
	// Bodies above this size are only deduplicated by explicit header.
	idempotenceMaxHashBody = 4 << 20
)

// IdempotenceStore is the subset of the Redis client the middleware needs.
type IdempotenceStore interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Idempotence rejects a repeated POST while the first one is running or
// within a minute after it succeeded.
func Idempotence(rdb IdempotenceStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rdb == nil || c.Request.Method != http.MethodPost {
			c.Next()
			return
		}

		key, err := resolveIdempotenceKey(c)
		if err != nil || key == "" {
			c.Next()
			return
		}

		redisKey := fmt.Sprintf("chaptr:idempotence:%s", key)
		ctx := c.Request.Context()

		val, err := rdb.Get(ctx, redisKey).Result()
		if err == nil {
			msg := "identical request already succeeded in the last minute"
			if val == "0" {
				msg = "identical request is still being processed"
			}
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"ok":      0,
				"code":    http.StatusConflict,
				"message": msg,
			})
			return
		}
		if !errors.Is(err, redis.Nil) {
			c.Next()
			return
		}
		if setErr := rdb.Set(ctx, redisKey, "0", idempotenceTTL).Err(); setErr != nil {
			c.Next()
			return
		}

		c.Next()

		// The request context may be done by now.
		after := context.WithoutCancel(ctx)
		status := c.Writer.Status()
		if status >= 200 && status < 300 {
			rdb.Set(after, redisKey, "1", redis.KeepTTL)
		} else {
			rdb.Del(after, redisKey)
		}
	}
}

// resolveIdempotenceKey prefers the explicit header and otherwise hashes the
// request line, body and client identity.
func resolveIdempotenceKey(c *gin.Context) (string, error) {
	if hdr := strings.TrimSpace(c.GetHeader(idempotenceHeader)); hdr != "" {
		return hdr, nil
	}
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		return "", nil
	}
	if c.Request.ContentLength > idempotenceMaxHashBody {
		return "", nil
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, idempotenceMaxHashBody+1))
	if err != nil {
		return "", err
	}
	c.Request.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), c.Request.Body))
	if len(body) > idempotenceMaxHashBody {
		return "", nil
	}

	h := sha256.New()
	for _, part := range []string{c.Request.Method, c.Request.URL.String(), c.Request.UserAgent(), c.ClientIP()} {
		h.Write([]byte(part))
		h.Write([]byte{'|'})
	}
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil)), nil
}
