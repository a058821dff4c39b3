package main

import (
	"strconv"
	"strings"

	"github.com/paulmach/orb/maptile"
)

//TileMap 瓦片地图类型
type TileMap struct {
	Name        string
	Description string
	Schema      string //"xyz" or "tms"
	Min         int
	Max         int
	Format      string
	Size        int
	//Path 文件输出模板, 如 {z}/{x}/{y}.png
	Path string
}

//tilePath 获取瓦片文件路径
func (m TileMap) tilePath(t maptile.Tile) string {
	y := t.Y
	if m.Schema == "tms" {
		y = Tile{T: t}.flipY()
	}
	path := m.Path
	if path == "" {
		path = "{z}/{x}/{y}." + m.Format
	}
	path = strings.Replace(path, "{x}", strconv.Itoa(int(t.X)), -1)
	path = strings.Replace(path, "{y}", strconv.Itoa(int(y)), -1)
	path = strings.Replace(path, "{z}", strconv.Itoa(int(t.Z)), -1)
	return path
}
