package middleware

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iliyamo/live-commerce/internal/config"
)

// captureWriter captures response body/status while forwarding to the client.
type captureWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
	size   int64
	limit  int64
}

func (cw *captureWriter) WriteHeader(code int) {
	cw.status = code
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	if cw.limit <= 0 {
		cw.buf.Write(b)
	} else if remain := cw.limit - cw.size; remain > 0 {
		if int64(len(b)) <= remain {
			cw.buf.Write(b)
		} else {
			cw.buf.Write(b[:remain])
		}
	}
	cw.size += int64(len(b))
	return cw.ResponseWriter.Write(b)
}

// ResponseCache stores successful GET responses in Redis.  Entries of routes
// with a session :id parameter are grouped under that session and carry the
// session's cache generation, so a catalog mutation retires all of them at
// once by bumping the generation.
type ResponseCache struct {
	cfg config.CacheConfig
	rdb *redis.Client
	log zerolog.Logger
}

// NewResponseCache returns a cache; with rdb nil or caching disabled both
// the middleware and Invalidate do nothing.
func NewResponseCache(cfg config.CacheConfig, rdb *redis.Client, log zerolog.Logger) *ResponseCache {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "cache"
	}
	return &ResponseCache{cfg: cfg, rdb: rdb, log: log.With().Str("component", "response-cache").Logger()}
}

func (rc *ResponseCache) enabled() bool { return rc != nil && rc.cfg.Enabled && rc.rdb != nil }

func (rc *ResponseCache) sessionPrefix(sessionID string) string {
	return rc.cfg.Prefix + ":s:" + sessionID + ":"
}

func (rc *ResponseCache) generationKey(sessionID string) string {
	return rc.cfg.Prefix + ":gen:" + sessionID
}

// generation reads the session's cache generation; a missing counter is 0.
func (rc *ResponseCache) generation(ctx context.Context, sessionID string) (int64, error) {
	n, err := rc.rdb.Get(ctx, rc.generationKey(sessionID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// generationTTL outlives every entry written under the generation.
func (rc *ResponseCache) generationTTL() time.Duration {
	if ttl := 2 * rc.cfg.TTL; ttl > 24*time.Hour {
		return ttl
	}
	return 24 * time.Hour
}

// keyFor builds <prefix>:s:<session>:<generation>:<hash> or <prefix>:g:<hash>.
func (rc *ResponseCache) keyFor(c echo.Context, gen int64) string {
	r := c.Request()
	tail := r.Method + " " + r.URL.Path
	if strings.ToLower(rc.cfg.KeyStrategy) != "path" {
		tail += "?" + r.URL.RawQuery
	}
	sum := sha1.Sum([]byte(tail))
	if id := c.Param("id"); id != "" {
		return fmt.Sprintf("%s%d:%x", rc.sessionPrefix(id), gen, sum[:])
	}
	return fmt.Sprintf("%s:g:%x", rc.cfg.Prefix, sum[:])
}

// encodePayload packs: [4 bytes status][4 bytes headerLen][headerJSON][body]
func encodePayload(status int, header http.Header, body []byte) ([]byte, error) {
	hdrJSON, err := json.Marshal(header)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 8+len(hdrJSON)+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(status))
	binary.BigEndian.PutUint32(out[4:8], uint32(len(hdrJSON)))
	copy(out[8:8+len(hdrJSON)], hdrJSON)
	copy(out[8+len(hdrJSON):], body)
	return out, nil
}

func decodePayload(bs []byte) (status int, header http.Header, body []byte, ok bool) {
	if len(bs) < 8 {
		return 0, nil, nil, false
	}
	status = int(binary.BigEndian.Uint32(bs[0:4]))
	hlen := int(binary.BigEndian.Uint32(bs[4:8]))
	if hlen < 0 || 8+hlen > len(bs) {
		return 0, nil, nil, false
	}
	header = make(http.Header)
	if hlen > 0 {
		if err := json.Unmarshal(bs[8:8+hlen], &header); err != nil {
			return 0, nil, nil, false
		}
	}
	return status, header, bs[8+hlen:], true
}

// Middleware serves cached responses and records 200 responses on a miss.
// The X-Cache header reports HIT or MISS.
func (rc *ResponseCache) Middleware() echo.MiddlewareFunc {
	if !rc.enabled() {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	maxBody := int64(rc.cfg.MaxBodyBytes)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !rc.cfg.Methods[strings.ToUpper(c.Request().Method)] {
				return next(c)
			}
			ctx := c.Request().Context()
			id := c.Param("id")
			var gen int64
			if id != "" {
				var err error
				if gen, err = rc.generation(ctx, id); err != nil {
					rc.log.Warn().Err(err).Str("session_id", id).Msg("cache generation read failed")
					return next(c)
				}
			}
			key := rc.keyFor(c, gen)

			if bs, err := rc.rdb.Get(ctx, key).Bytes(); err == nil {
				if status, hdr, body, ok := decodePayload(bs); ok {
					for k, vals := range hdr {
						if strings.EqualFold(k, "Content-Length") {
							continue
						}
						for _, v := range vals {
							c.Response().Header().Add(k, v)
						}
					}
					c.Response().Header().Set("X-Cache", "HIT")
					c.Response().WriteHeader(status)
					if len(body) > 0 {
						_, _ = c.Response().Write(body)
					}
					return nil
				}
			}

			cw := &captureWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: maxBody}
			c.Response().Writer = cw
			c.Response().Header().Set("X-Cache", "MISS")

			if err := next(c); err != nil {
				return err
			}
			if cw.status != http.StatusOK || (maxBody > 0 && cw.size > maxBody) {
				return nil
			}
			if id != "" {
				// a mutation invalidated the session while the handler ran
				if cur, err := rc.generation(ctx, id); err != nil || cur != gen {
					return nil
				}
			}
			hdr := c.Response().Header().Clone()
			hdr.Del("X-Cache")
			payload, err := encodePayload(cw.status, hdr, cw.buf.Bytes())
			if err != nil {
				return nil
			}
			if err := rc.rdb.Set(context.Background(), key, payload, rc.cfg.TTL).Err(); err != nil {
				rc.log.Warn().Err(err).Str("key", key).Msg("cache store failed")
			}
			return nil
		}
	}
}

// Invalidate bumps the session's cache generation, then drops the entries
// already stored.  Responses still being built under the old generation land
// on keys no later request reads.
func (rc *ResponseCache) Invalidate(ctx context.Context, sessionID uint64) {
	if !rc.enabled() {
		return
	}
	id := strconv.FormatUint(sessionID, 10)
	pipe := rc.rdb.TxPipeline()
	pipe.Incr(ctx, rc.generationKey(id))
	pipe.Expire(ctx, rc.generationKey(id), rc.generationTTL())
	if _, err := pipe.Exec(ctx); err != nil {
		rc.log.Warn().Err(err).Uint64("session_id", sessionID).Msg("cache generation bump failed")
	}
	match := rc.sessionPrefix(id) + "*"
	iter := rc.rdb.Scan(ctx, 0, match, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		rc.log.Warn().Err(err).Uint64("session_id", sessionID).Msg("cache scan failed")
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := rc.rdb.Del(ctx, keys...).Err(); err != nil {
		rc.log.Warn().Err(err).Uint64("session_id", sessionID).Msg("cache invalidate failed")
	}
}
