//go:build integration

package cache_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"setman/internal/settings/cache"
	"setman/pkg/testutil/containers"
)

type RedisCacheSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	cache *cache.Redis
}

func TestRedisCacheSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisCacheSuite))
}

func (s *RedisCacheSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.cache = cache.NewRedis(s.redis.Client, cache.WithPrefix("test:"))
}

func (s *RedisCacheSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisCacheSuite) TestRoundTrip() {
	ctx := context.Background()

	_, ok, err := s.cache.Get(ctx, cache.Key)
	s.Require().NoError(err)
	s.False(ok)

	s.Require().NoError(s.cache.Set(ctx, cache.Key, []byte(`{"id":7}`)))

	got, ok, err := s.cache.Get(ctx, cache.Key)
	s.Require().NoError(err)
	s.True(ok)
	s.JSONEq(`{"id":7}`, string(got))

	ttl, err := s.redis.Client.TTL(ctx, "test:"+cache.Key).Result()
	s.Require().NoError(err)
	s.Negative(int64(ttl), "entries do not expire")
}

func (s *RedisCacheSuite) TestDeleteAndContains() {
	ctx := context.Background()
	s.Require().NoError(s.cache.Set(ctx, cache.Key, []byte("{}")))

	has, err := s.cache.Contains(ctx, cache.Key)
	s.Require().NoError(err)
	s.True(has)

	s.Require().NoError(s.cache.Delete(ctx, cache.Key))
	has, err = s.cache.Contains(ctx, cache.Key)
	s.Require().NoError(err)
	s.False(has)
}
