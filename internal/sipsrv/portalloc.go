package sipsrv

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/restsend/active-call/internal/logx"
)

// Redis-backed distributed even-port allocation with per-instance crash
// recovery.
const (
	rtpAvailableKey    = "{rtp:ports}:available"
	rtpAllocatedPrefix = "{rtp:ports}:allocated:"
	rtpAllocatedTTL    = 10 * time.Minute
)

// PortAllocator manages distributed allocation of RTP ports via Redis. Ports
// are even-numbered per RFC 3550 (RTCP uses the next odd port).
type PortAllocator struct {
	client     *redis.Client
	log        logx.Logger
	portStart  int
	portEnd    int
	instanceID string
}

// NewPortAllocator builds an allocator for the even ports in [start, end).
func NewPortAllocator(client *redis.Client, log logx.Logger, portStart, portEnd int) *PortAllocator {
	hostname, _ := os.Hostname()
	return &PortAllocator{
		client:     client,
		log:        log,
		portStart:  portStart,
		portEnd:    portEnd,
		instanceID: fmt.Sprintf("%s:%d", hostname, os.Getpid()),
	}
}

var initLuaScript = redis.NewScript(`
	local key = KEYS[1]
	local exists = redis.call('EXISTS', key)
	if exists == 0 then
		for i = 1, #ARGV do
			redis.call('SADD', key, ARGV[i])
		end
		return #ARGV
	end
	return 0
`)

// Init populates the available-ports set on first use and reclaims any
// ports left allocated by a previous crashed instance with this identity.
func (a *PortAllocator) Init(ctx context.Context) error {
	if a.client == nil {
		return fmt.Errorf("sipsrv: redis connection not available for RTP port allocator")
	}

	start := a.portStart
	if start%2 != 0 {
		start++
	}
	ports := make([]interface{}, 0, (a.portEnd-start)/2)
	for port := start; port < a.portEnd; port += 2 {
		ports = append(ports, port)
	}
	if len(ports) == 0 {
		return fmt.Errorf("sipsrv: no valid RTP ports in range %d-%d", a.portStart, a.portEnd)
	}

	result, err := initLuaScript.Run(ctx, a.client, []string{rtpAvailableKey}, ports...).Int()
	if err != nil {
		return fmt.Errorf("sipsrv: init RTP port pool: %w", err)
	}
	if result > 0 {
		a.log.Infow("initialized RTP port pool", "ports_added", result, "range_start", a.portStart, "range_end", a.portEnd)
	} else {
		a.log.Debugw("RTP port pool already exists, skipping initialization")
	}

	a.reclaimCrashedPorts(ctx)
	return nil
}

var allocateLuaScript = redis.NewScript(`
	local port = redis.call('SPOP', KEYS[1])
	if port == false then
		return -1
	end
	redis.call('SADD', KEYS[2], port)
	return port
`)

// Allocate returns the next available even-numbered port.
func (a *PortAllocator) Allocate() (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.client == nil {
		return 0, fmt.Errorf("sipsrv: redis connection not available for RTP port allocation")
	}
	instanceKey := rtpAllocatedPrefix + a.instanceID

	result, err := allocateLuaScript.Run(ctx, a.client, []string{rtpAvailableKey, instanceKey}).Int()
	if err != nil {
		return 0, fmt.Errorf("sipsrv: allocate RTP port: %w", err)
	}
	if result == -1 {
		inUse, _ := a.InUse()
		return 0, fmt.Errorf("sipsrv: no RTP ports available in range %d-%d (%d in use)", a.portStart, a.portEnd, inUse)
	}

	a.client.Expire(ctx, instanceKey, rtpAllocatedTTL)
	a.log.Debugw("allocated RTP port", "port", result, "instance", a.instanceID)
	return result, nil
}

var releaseLuaScript = redis.NewScript(`
	redis.call('SREM', KEYS[2], ARGV[1])
	redis.call('SADD', KEYS[1], ARGV[1])
	return 1
`)

// Release returns port to the pool.
func (a *PortAllocator) Release(port int) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.client == nil {
		a.log.Error("redis connection not available for RTP port release", "port", port)
		return
	}
	instanceKey := rtpAllocatedPrefix + a.instanceID
	if _, err := releaseLuaScript.Run(ctx, a.client, []string{rtpAvailableKey, instanceKey}, port).Result(); err != nil {
		a.log.Error("failed to release RTP port", "port", port, "error", err)
		return
	}
	a.log.Debugw("released RTP port", "port", port, "instance", a.instanceID)
}

// InUse returns the number of currently allocated ports across all instances.
func (a *PortAllocator) InUse() (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.client == nil {
		return 0, fmt.Errorf("sipsrv: redis connection not available")
	}
	start := a.portStart
	if start%2 != 0 {
		start++
	}
	total := (a.portEnd - start) / 2

	available, err := a.client.SCard(ctx, rtpAvailableKey).Result()
	if err != nil {
		return 0, fmt.Errorf("sipsrv: get available port count: %w", err)
	}
	return total - int(available), nil
}

func (a *PortAllocator) reclaimCrashedPorts(ctx context.Context) {
	if a.client == nil {
		return
	}
	instanceKey := rtpAllocatedPrefix + a.instanceID

	ports, err := a.client.SMembers(ctx, instanceKey).Result()
	if err != nil {
		a.log.Warn("failed to check crashed instance ports", "instance", a.instanceID, "error", err)
		return
	}
	if len(ports) == 0 {
		return
	}
	a.log.Warn("reclaiming ports from crashed instance", "instance", a.instanceID, "ports_count", len(ports))

	for _, portStr := range ports {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			continue
		}
		if _, err := releaseLuaScript.Run(ctx, a.client, []string{rtpAvailableKey, instanceKey}, port).Result(); err != nil {
			a.log.Warn("failed to reclaim port", "port", port, "error", err)
		}
	}
	a.log.Info("reclaimed crashed instance ports", "instance", a.instanceID, "ports_reclaimed", len(ports))
}

// ReleaseAll releases every port allocated by this instance, for graceful shutdown.
func (a *PortAllocator) ReleaseAll(ctx context.Context) {
	if a.client == nil {
		return
	}
	instanceKey := rtpAllocatedPrefix + a.instanceID

	ports, err := a.client.SMembers(ctx, instanceKey).Result()
	if err != nil {
		a.log.Error("failed to get allocated ports for release", "error", err)
		return
	}
	for _, portStr := range ports {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			continue
		}
		a.Release(port)
	}
	a.client.Del(ctx, instanceKey)
	a.log.Info("released all RTP ports on shutdown", "instance", a.instanceID, "ports_released", len(ports))
}
