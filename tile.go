package main

import (
	"math"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"maprender/renderer"
	rtile "maprender/tile"
)

//TileSize 默认瓦片大小
const TileSize = 256

//ZoomMin 最小级别
const ZoomMin = 0

//ZoomMax 最大级别
const ZoomMax = 22

//Tile 渲染完成的瓦片
type Tile struct {
	T maptile.Tile
	C []byte
}

func (tile Tile) flipY() uint32 {
	zpower := math.Pow(2.0, float64(tile.T.Z))
	return uint32(zpower) - 1 - tile.T.Y
}

//Set 已渲染瓦片集合, 超出容量时淘汰最早的瓦片并清除其标注依赖
type Set struct {
	sync.RWMutex
	M        map[renderer.JobKey]struct{}
	order    []renderer.JobKey
	capacity int
	deps     *renderer.Dependencies
}

func newSet(capacity int) *Set {
	return &Set{M: make(map[renderer.JobKey]struct{}), capacity: capacity}
}

//ContainsRenderedTile 邻接瓦片是否已按相同参数渲染
func (s *Set) ContainsRenderedTile(t rtile.Tile, job renderer.Job) bool {
	s.RLock()
	defer s.RUnlock()
	_, ok := s.M[job.Key()]
	return ok
}

//Add 记录已渲染瓦片
func (s *Set) Add(job renderer.Job) {
	for _, key := range s.add(job.Key()) {
		if s.deps != nil {
			s.deps.RemoveTile(key.Tile)
		}
	}
}

//add 记录瓦片, 返回被淘汰的瓦片. 依赖缓存须在锁外清理
func (s *Set) add(key renderer.JobKey) []renderer.JobKey {
	s.Lock()
	defer s.Unlock()
	if _, ok := s.M[key]; ok {
		return nil
	}
	s.M[key] = struct{}{}
	s.order = append(s.order, key)
	var evicted []renderer.JobKey
	for s.capacity > 0 && len(s.order) > s.capacity {
		delete(s.M, s.order[0])
		evicted = append(evicted, s.order[0])
		s.order = s.order[1:]
	}
	return evicted
}

//Len 已渲染瓦片数
func (s *Set) Len() int {
	s.RLock()
	defer s.RUnlock()
	return len(s.M)
}

//Layer 级别&瓦片数
type Layer struct {
	Zoom       int
	Count      int64
	Collection orb.Collection
	tiles      []maptile.Tile
}

// Constants representing TileFormat types
const (
	PNG = "png"
)
