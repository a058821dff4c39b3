package main

import (
	"database/sql"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/maptile/tilecover"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

func saveToMBTile(tile Tile, db *sql.DB) error {
	_, err := db.Exec("insert or replace into tiles (zoom_level, tile_column, tile_row, tile_data) values (?, ?, ?, ?);", tile.T.Z, tile.T.X, tile.flipY(), tile.C)
	if err != nil {
		return err
	}
	return nil
}

func saveToFiles(tile Tile, rootdir string, tm TileMap) error {
	fileName := filepath.Join(rootdir, filepath.FromSlash(tm.tilePath(tile.T)))
	os.MkdirAll(filepath.Dir(fileName), os.ModePerm)
	err := ioutil.WriteFile(fileName, tile.C, 0644)
	if err != nil {
		return err
	}
	log.Debugln(fileName)
	return nil
}

func optimizeConnection(db *sql.DB) error {
	_, err := db.Exec("PRAGMA synchronous=0")
	if err != nil {
		return err
	}
	_, err = db.Exec("PRAGMA locking_mode=EXCLUSIVE")
	if err != nil {
		return err
	}
	_, err = db.Exec("PRAGMA journal_mode=DELETE")
	if err != nil {
		return err
	}
	return nil
}

func optimizeDatabase(db *sql.DB) error {
	_, err := db.Exec("ANALYZE;")
	if err != nil {
		return err
	}

	_, err = db.Exec("VACUUM;")
	if err != nil {
		return err
	}

	return nil
}

//loadCollection 读取渲染范围, 支持 FeatureCollection, Feature 及 Geometry
func loadCollection(path string) (orb.Collection, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read file %s", path)
	}

	var collection orb.Collection
	if fc, err := geojson.UnmarshalFeatureCollection(data); err == nil && len(fc.Features) > 0 {
		for _, f := range fc.Features {
			collection = append(collection, f.Geometry)
		}
		return collection, nil
	}

	if f, err := geojson.UnmarshalFeature(data); err == nil && f.Geometry != nil {
		return orb.Collection{f.Geometry}, nil
	}

	g, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to unmarshal %s", path)
	}
	return orb.Collection{g.Geometry()}, nil
}

//coverTiles 计算范围在指定级别覆盖的瓦片, 按行排序
func coverTiles(c orb.Collection, zoom int) ([]maptile.Tile, error) {
	set, err := tilecover.Collection(c, maptile.Zoom(zoom))
	if err != nil {
		return nil, errors.Wrapf(err, "cover zoom %d", zoom)
	}
	tiles := make([]maptile.Tile, 0, len(set))
	for t := range set {
		tiles = append(tiles, t)
	}
	sort.Slice(tiles, func(i, j int) bool {
		if tiles[i].Y != tiles[j].Y {
			return tiles[i].Y < tiles[j].Y
		}
		return tiles[i].X < tiles[j].X
	})
	return tiles, nil
}
