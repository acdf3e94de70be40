package cache

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Stats はキャッシュの利用状況。
type Stats struct {
	Keys int `json:"keys"`
	// Hits/Misses はこのプロセス内での参照結果の累計。
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	// ServerHits/ServerMisses/UsedMemory はRedisのINFOから取得した値。
	ServerHits   int64  `json:"server_hits"`
	ServerMisses int64  `json:"server_misses"`
	UsedMemory   string `json:"used_memory,omitempty"`
}

// HitRate はこのプロセス内でのヒット率を返す。参照がなければ0。
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Stats はキャッシュの利用状況を取得する。
// INFOに対応していないサーバーの場合はサーバー側の値を空のまま返す。
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	keys, err := c.rdb.Keys(ctx, keyPrefix+"*").Result()
	if err != nil {
		return Stats{}, fmt.Errorf("キャッシュキーの列挙に失敗しました: %w", err)
	}

	s := Stats{
		Keys:   len(keys),
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}

	info, err := c.rdb.Info(ctx, "stats", "memory").Result()
	if err != nil {
		c.logger.Debug("INFOの取得に失敗しました", "error", err)
		return s, nil
	}

	fields := parseInfo(info)
	s.ServerHits, _ = strconv.ParseInt(fields["keyspace_hits"], 10, 64)
	s.ServerMisses, _ = strconv.ParseInt(fields["keyspace_misses"], 10, 64)
	s.UsedMemory = fields["used_memory_human"]
	return s, nil
}

// parseInfo はINFOコマンドの応答をキーと値の組に分解する。
func parseInfo(info string) map[string]string {
	fields := make(map[string]string)
	sc := bufio.NewScanner(strings.NewReader(info))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		fields[key] = value
	}
	return fields
}
